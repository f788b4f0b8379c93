package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "poolctl",
	Short: "Control the poold storage pool daemon",
	Long: `poolctl talks to a running poold instance to inspect disks,
reconfigure the MergerFS pool, and drive single-disk operations.`,
}

var disksCmd = &cobra.Command{
	Use:   "disks",
	Short: "List configured and unconfigured disks",
	RunE: func(cmd *cobra.Command, args []string) error {
		var res struct {
			Configured []struct {
				Name string `json:"name"`
				Size uint64 `json:"size"`
				Role string `json:"role"`
			} `json:"configured"`
			Unconfigured []struct {
				Name      string `json:"name"`
				Size      uint64 `json:"size"`
				Model     string `json:"model"`
				HasData   bool   `json:"hasData"`
				Formatted bool   `json:"formatted"`
			} `json:"unconfigured"`
		}
		if err := getJSON("/api/v1/disks", &res); err != nil {
			return err
		}
		for _, d := range res.Configured {
			role := d.Role
			if role == "" {
				role = "mounted (no record)"
			}
			fmt.Printf("%-10s %10s  configured: %s\n", d.Name, humanize.IBytes(d.Size), role)
		}
		for _, d := range res.Unconfigured {
			flags := []string{}
			if d.HasData {
				flags = append(flags, "has data")
			}
			if d.Formatted {
				flags = append(flags, "formatted")
			}
			fmt.Printf("%-10s %10s  unconfigured %s %s\n", d.Name, humanize.IBytes(d.Size), d.Model, strings.Join(flags, ", "))
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pool membership and live union mount state",
	RunE: func(cmd *cobra.Command, args []string) error {
		var res struct {
			Disks []struct {
				DiskID     string `json:"diskId"`
				Role       string `json:"role"`
				MountPoint string `json:"mountPoint"`
			} `json:"disks"`
			Topology struct {
				Mounted  bool     `json:"mounted"`
				Branches []string `json:"branches"`
				Total    uint64   `json:"total"`
				Free     uint64   `json:"free"`
			} `json:"topology"`
		}
		if err := getJSON("/api/v1/pool", &res); err != nil {
			return err
		}
		for _, d := range res.Disks {
			fmt.Printf("%-10s %-7s %s\n", d.DiskID, d.Role, d.MountPoint)
		}
		if res.Topology.Mounted {
			fmt.Printf("union: mounted, %d branches, %s free of %s\n",
				len(res.Topology.Branches), humanize.IBytes(res.Topology.Free), humanize.IBytes(res.Topology.Total))
		} else {
			fmt.Println("union: not mounted")
		}
		return nil
	},
}

var reconfigureCmd = &cobra.Command{
	Use:   "reconfigure <disk:role[:format]>...",
	Short: "Apply a full pool configuration",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		type target struct {
			DiskID string `json:"diskId"`
			Role   string `json:"role"`
			Format bool   `json:"format"`
		}
		disks := make([]target, 0, len(args))
		for _, a := range args {
			parts := strings.Split(a, ":")
			if len(parts) < 2 {
				return fmt.Errorf("expected disk:role[:format], got %q", a)
			}
			disks = append(disks, target{DiskID: parts[0], Role: parts[1], Format: len(parts) > 2 && parts[2] == "format"})
		}
		return postOp("/api/v1/pool/reconfigure", map[string]any{"disks": disks})
	},
}

var addCmd = &cobra.Command{
	Use:   "add <disk> <role>",
	Short: "Add one disk to the live pool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetBool("format")
		force, _ := cmd.Flags().GetBool("force")
		return postOp("/api/v1/pool/disks", map[string]any{
			"diskId": args[0], "role": args[1], "format": format, "force": force,
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <disk>",
	Short: "Detach one disk from the union view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := http.NewRequest(http.MethodDelete, serverURL+"/api/v1/pool/disks/"+args[0], nil)
		if err != nil {
			return err
		}
		return doOp(req)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Start a snapraid sync (or show status with --status)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusOnly, _ := cmd.Flags().GetBool("status"); statusOnly {
			var st map[string]any
			if err := getJSON("/api/v1/pool/sync", &st); err != nil {
				return err
			}
			b, _ := json.MarshalIndent(st, "", "  ")
			fmt.Println(string(b))
			return nil
		}
		req, err := http.NewRequest(http.MethodPost, serverURL+"/api/v1/pool/sync", nil)
		if err != nil {
			return err
		}
		return doOp(req)
	},
}

func client() *http.Client { return &http.Client{Timeout: 10 * time.Minute} }

func getJSON(path string, v any) error {
	resp, err := client().Get(serverURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func postOp(path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doOp(req)
}

// doOp executes a mutation request and prints the operation step log.
func doOp(req *http.Request) error {
	resp, err := client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var res struct {
		Success   bool     `json:"success"`
		Log       []string `json:"log"`
		ErrorKind string   `json:"errorKind"`
		Detail    string   `json:"detail"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	for _, line := range res.Log {
		fmt.Println(line)
	}
	if !res.Success && res.ErrorKind != "" {
		return fmt.Errorf("%s: %s", res.ErrorKind, res.Detail)
	}
	if res.Success {
		fmt.Println("done")
	}
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:9000", "poold base URL")
	addCmd.Flags().Bool("format", false, "partition and format the disk first")
	addCmd.Flags().Bool("force", false, "proceed even if existing data is detected")
	syncCmd.Flags().Bool("status", false, "show sync status instead of starting one")
	rootCmd.AddCommand(disksCmd, statusCmd, reconfigureCmd, addCmd, removeCmd, syncCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

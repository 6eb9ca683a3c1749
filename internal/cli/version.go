package cli

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"lsp-framework/internal/version"
)

var versionJSON bool

// versionInfo is the machine-readable shape of the version command.
type versionInfo struct {
	Version      string `json:"version"`
	GitCommit    string `json:"git_commit"`
	BuildTime    string `json:"build_time"`
	GoVersion    string `json:"go_version"`
	Platform     string `json:"platform"`
	Architecture string `json:"architecture"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and build information",
	Long: `Display version and build information for lsp-server.

Version information can be customized at build time using:
  go build -ldflags "-X 'lsp-framework/internal/version.Version=v1.0.0'"`,
	RunE: runVersion,
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Output version information as JSON")
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	info := versionInfo{
		Version:      version.Version,
		GitCommit:    version.GitCommit,
		BuildTime:    version.BuildTime,
		GoVersion:    runtime.Version(),
		Platform:     runtime.GOOS,
		Architecture: runtime.GOARCH,
	}

	if versionJSON {
		out, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal version info: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("lsp-server %s\n", info.Version)
	fmt.Printf("  Git commit: %s\n", info.GitCommit)
	fmt.Printf("  Built:      %s\n", info.BuildTime)
	fmt.Printf("  Go version: %s\n", info.GoVersion)
	fmt.Printf("  Platform:   %s/%s\n", info.Platform, info.Architecture)
	return nil
}

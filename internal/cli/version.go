package cli

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

// Build variables - these will be set during build time using ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if short, _ := cmd.Flags().GetBool("short"); short {
				fmt.Fprintf(out, "v%s\n", Version)
				return
			}

			fmt.Fprintln(out, TitleStyle.Render("ban - bulk audio normalizer"))
			fmt.Fprintln(out, strings.Repeat("-", 40))
			fmt.Fprintln(out, keyValue("Version   ", "v"+Version))
			fmt.Fprintln(out, keyValue("Git Commit", GitCommit))
			fmt.Fprintln(out, keyValue("Build Time", BuildTime))
			fmt.Fprintln(out, keyValue("Go Version", runtime.Version()))
			fmt.Fprintln(out, keyValue("OS/Arch   ", runtime.GOOS+"/"+runtime.GOARCH))
		},
	}
	cmd.Flags().BoolP("short", "s", false, "print just the version number")
	return cmd
}

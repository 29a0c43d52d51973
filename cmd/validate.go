package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loop-sim/loop-sim/sim/scenario"
)

// validateCmd checks scenario files without running them
var validateCmd = &cobra.Command{
	Use:   "validate scenario.yaml...",
	Short: "Parse, validate and build scenario files",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		if failed := validateScenarios(args, os.Stdout); failed > 0 {
			logrus.Fatalf("%d of %d scenario(s) invalid", failed, len(args))
		}
	},
}

// validateScenarios reports one line per path and returns how many failed.
// A scenario is valid when it loads and all of its components build.
func validateScenarios(paths []string, w io.Writer) int {
	failed := 0
	for _, path := range paths {
		sc, err := scenario.Load(path)
		if err == nil {
			_, err = sc.Build()
		}
		if err != nil {
			failed++
			fmt.Fprintf(w, "%s: INVALID: %v\n", path, err)
			continue
		}
		fmt.Fprintf(w, "%s: ok (%s, %gh, controller %s)\n", path, sc.Name, sc.DurationHours, sc.Controller.Type)
	}
	return failed
}

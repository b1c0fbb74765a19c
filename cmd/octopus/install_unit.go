package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/octopus/internal/systemd"
)

// newInstallUnitCmd implements `octopus install-unit`: writes the
// systemd unit file and records its install-time hash so later runs of
// `octopus status` can detect tampering (spec.md §6).
func newInstallUnitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install-unit",
		Short: "install the systemd unit file for the supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := systemd.UnitFilePaths[0]
			if err := os.WriteFile(path, []byte(systemd.UnitTemplate()), 0o644); err != nil {
				return fmt.Errorf("write unit file %s: %w", path, err)
			}
			if err := systemd.RecordUnitFileHash(); err != nil {
				return fmt.Errorf("record unit file hash: %w", err)
			}
			fmt.Printf("installed %s\nrun: systemctl daemon-reload && systemctl enable --now octopus\n", path)
			return nil
		},
	}
	return cmd
}

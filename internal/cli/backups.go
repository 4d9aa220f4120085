package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Manage store snapshots",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Run:   runBackupsList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Write a snapshot and rotate old ones",
		Run:   runBackupsCreate,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rotate",
		Short: "Delete the oldest snapshots beyond the retention count",
		Run:   runBackupsRotate,
	})

	RootCmd.AddCommand(cmd)
}

func runBackupsList(cmd *cobra.Command, args []string) {
	a := openApp(cmd)
	defer a.Close()

	snaps, err := a.Memory.Snapshots()
	if err != nil {
		exitErr("list backups", err)
	}
	if textFormat() {
		for _, s := range snaps {
			fmt.Printf("%s  %s\n", s.Timestamp.Format("2006-01-02 15:04:05"), s.Path)
		}
		return
	}
	printJSON(snaps)
}

func runBackupsCreate(cmd *cobra.Command, args []string) {
	a := openApp(cmd)
	defer a.Close()

	snap, err := a.Memory.Snapshot(cmd.Context())
	if err != nil {
		exitErr("create backup", err)
	}
	if _, err := a.Memory.RotateBackups(cmd.Context()); err != nil {
		exitErr("rotate backups", err)
	}
	printJSON(snap)
}

func runBackupsRotate(cmd *cobra.Command, args []string) {
	a := openApp(cmd)
	defer a.Close()

	removed, err := a.Memory.RotateBackups(cmd.Context())
	if err != nil {
		exitErr("rotate backups", err)
	}
	fmt.Printf(`{"ok":true,"removed":%d}`+"\n", len(removed))
}

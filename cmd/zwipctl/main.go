// Command zwipctl is a read-only offline inspection tool for the
// gateway's persistent store: it never touches the serial link, only
// the sqlite-backed Resource Directory database the daemon writes to,
// grounded on sakateka-yanet2's coordinator/cmd cobra layout.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/siliconlabs/zwave-ip-gateway/internal/rd"
	"github.com/siliconlabs/zwave-ip-gateway/internal/shmp"
)

var storePath string

func main() {
	root := &cobra.Command{
		Use:   "zwipctl",
		Short: "Inspect a zwipgw resource-directory store offline",
	}
	var persistent *pflag.FlagSet = root.PersistentFlags()
	persistent.StringVarP(&storePath, "store", "s", "zwipgw.db", "path to the gateway's sqlite store")

	root.AddCommand(newNodesCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDirectory() (*rd.Store, *rd.Directory, error) {
	store, err := rd.OpenStore(storePath, rd.MaxNodesClassic)
	if err != nil {
		return nil, nil, err
	}
	dir := rd.NewDirectory(store, nil, zerolog.Nop())
	for id := 1; id <= rd.MaxNodesClassic; id++ {
		dir.ImportFromStore(shmp.NodeId(id))
	}
	return store, dir, nil
}

func newNodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "Inspect resource-directory node entries",
	}
	cmd.AddCommand(newNodesListCmd())
	cmd.AddCommand(newNodesShowCmd())
	cmd.AddCommand(newNodesFindCmd())
	return cmd
}

func newNodesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every node present in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, dir, err := openDirectory()
			if err != nil {
				return err
			}
			defer store.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "NODE\tSTATE\tMODE\tNAME\tDSK")
			for _, n := range dir.Nodes() {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%x\n", n.NodeId, n.State, n.Mode, n.Name, n.DSK)
			}
			return w.Flush()
		},
	}
}

func newNodesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <node-id>",
		Short: "Show full detail for a single node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, dir, err := openDirectory()
			if err != nil {
				return err
			}
			defer store.Close()

			var id int
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid node-id %q: %w", args[0], err)
			}
			n, ok := dir.Get(shmp.NodeId(id))
			if !ok {
				return fmt.Errorf("no node %d in store", id)
			}
			fmt.Printf("node:            %d\n", n.NodeId)
			fmt.Printf("state:           %s\n", n.State)
			fmt.Printf("mode:            %s\n", n.Mode)
			fmt.Printf("name:            %s\n", n.Name)
			fmt.Printf("dsk:             %x\n", n.DSK)
			fmt.Printf("security_flags:  %#02x\n", n.SecurityFlags)
			fmt.Printf("wakeup_interval: %d\n", n.WakeupInterval)
			fmt.Println("cc_versions:")
			for cc, v := range n.CCVersions {
				fmt.Printf("  %#02x: %d\n", cc, v)
			}
			return nil
		},
	}
}

func newNodesFindCmd() *cobra.Command {
	var byDSK, byName string
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Find a node by DSK or name",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (byDSK == "") == (byName == "") {
				return fmt.Errorf("exactly one of --dsk or --name is required")
			}
			store, dir, err := openDirectory()
			if err != nil {
				return err
			}
			defer store.Close()

			var result interface{}
			if byDSK != "" {
				result, err = dir.GetByDSK(byDSK)
			} else {
				result, err = dir.GetByName(byName)
			}
			if err != nil {
				return err
			}
			n := result.(*rd.Node)
			fmt.Printf("node %d (%s, %s)\n", n.NodeId, n.State, n.Mode)
			return nil
		},
	}
	cmd.Flags().StringVar(&byDSK, "dsk", "", "raw DSK bytes to search for")
	cmd.Flags().StringVar(&byName, "name", "", "node name to search for")
	return cmd
}

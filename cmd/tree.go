package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"vaultsync/internal/model"

	"github.com/spf13/cobra"
)

var treeRemote bool

var treeCmd = &cobra.Command{
	Use:   "tree [path]",
	Short: "Show sync status of the local tree, or list a remote folder",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if len(args) == 1 {
			q.Set("path", args[0])
		}

		if treeRemote {
			q.Set("remote", "true")
			var nodes []*model.LocalFileNode
			if err := call(http.MethodGet, "/tree?"+q.Encode(), &nodes); err != nil {
				return err
			}
			if len(nodes) == 0 {
				fmt.Println("empty")
			}
			for _, n := range nodes {
				printNode(n, 0)
			}
			return nil
		}

		var root model.LocalFileNode
		if err := call(http.MethodGet, "/tree?"+q.Encode(), &root); err != nil {
			return err
		}
		printTree(&root, 0)
		return nil
	},
}

func printNode(n *model.LocalFileNode, depth int) {
	name := n.Name
	if name == "" {
		name = "."
	}
	if n.IsDir() {
		name += "/"
	}
	fmt.Printf("%s%-*s %s\n", strings.Repeat("  ", depth), 40-2*depth, name, n.SyncStatus)
}

func printTree(n *model.LocalFileNode, depth int) {
	printNode(n, depth)
	for _, c := range n.Children {
		printTree(c, depth+1)
	}
}

func init() {
	treeCmd.Flags().BoolVar(&treeRemote, "remote", false, "list the remote folder instead")
	rootCmd.AddCommand(treeCmd)
}

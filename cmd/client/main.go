package main

import (
	"os"
	"time"

	"github.com/lioia/siterank/pkg/node"
	"github.com/lioia/siterank/pkg/utils"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var api string  // Connection string of the master node
var file string // Graph file
var timeout time.Duration

var rootCmd = &cobra.Command{
	Use:          "client",
	Short:        "Send a graph file to the master node and print the top ranked sites",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		bytes, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		server, err := utils.Call(api, timeout, node.NewApiClient)
		if err != nil {
			return err
		}
		defer server.Close()
		answer, err := server.Client.Rank(server.Ctx, wrapperspb.Bytes(bytes))
		if err != nil {
			return err
		}
		return node.RankResponseFromStruct(answer).Write(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.Flags().StringVar(&api, "api", "127.0.0.1:1234", "Master node connection")
	rootCmd.Flags().StringVar(&file, "file", "graph.txt", "Graph file")
	rootCmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Rank request timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

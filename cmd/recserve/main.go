// Command recserve 提供推荐服务及模型包运维工具。
//
//	recserve serve                         启动 HTTP 服务
//	recserve recommend --bundle DIR -u 10  离线查询一次推荐
//	recserve inspect --bundle DIR          打印模型包统计
//	recserve pack --dir DIR --out FILE     把目录格式的模型包打成归档
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "recserve",
		Short:         "Popularity-backed collaborative filtering recommendation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "recserve %s\n", version)
			},
		},
		newServeCmd(),
		newRecommendCmd(),
		newInspectCmd(),
		newPackCmd(),
	)
	return root
}

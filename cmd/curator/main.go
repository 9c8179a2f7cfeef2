package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "curator"}

	root.AddCommand(serveCMD(), migrateCMD(), integrityCMD())
	_ = root.Execute()
}

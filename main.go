package main

import "github.com/wvw-insights/cbtup/cmd"

func main() {
	cmd.Execute()
}

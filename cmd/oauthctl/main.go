package main

import "github.com/pilab-dev/mcp-oauth/cmd/oauthctl/cmd"

func main() {
	cmd.Execute()
}

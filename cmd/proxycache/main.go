// Command proxycache runs the caching forward proxy.
package main

import "github.com/larkspur-labs/proxycache/internal/cli"

func main() {
	cli.Main()
}

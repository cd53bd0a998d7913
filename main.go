// The main package for the dircrawler executable.
package main

import "github.com/JakeFAU/directory-crawler/cmd"

func main() {
	cmd.Execute()
}

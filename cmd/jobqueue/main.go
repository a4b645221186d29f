// Command jobqueue runs queue workers and pushes jobs from the shell.
package main

import "github.com/nimburion/jobqueue/pkg/cli"

func main() {
	cli.Execute(cli.NewRootCommand(cli.CommandOptions{
		Name:        "jobqueue",
		Description: "Asynchronous job queue worker and producer",
	}))
}

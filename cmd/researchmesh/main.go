// Command researchmesh runs research tasks with a team of LLM agents.
//
//	researchmesh run "Find the population of France and plot it against Germany"
//	researchmesh batch tasks.txt --format json
//	researchmesh roles
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("error: ")+err.Error())
		os.Exit(1)
	}
}

package main

import "github.com/KaramelBytes/csv-analyst/cmd"

func main() {
	cmd.Execute()
}

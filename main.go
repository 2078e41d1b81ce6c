package main

import "github.com/supporttools/GoSQLConsole/cmd"

func main() {
	cmd.Execute()
}

// README: Entry point; delegates to the cobra command tree.
package main

import "foodbridge/cmd/foodbridge/command"

func main() {
	command.Execute()
}

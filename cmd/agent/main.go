// Command agent drives the speaking studio from a terminal: a live
// conversation with the model, spoken prompts and timed answer recordings.
package main

func main() {
	Execute()
}

package main

import "github.com/telneko/TelGPT-DiscordBot/cmd"

func main() {
	cmd.Execute()
}

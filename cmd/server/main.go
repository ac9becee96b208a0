package main

import "emooti/internal/app/server"

func main() {
	server.Run()
}

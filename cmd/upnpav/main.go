package main

import "github.com/rosschurchill/upnpav/cmd"

func main() {
	cmd.Execute()
}

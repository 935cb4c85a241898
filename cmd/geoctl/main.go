package main

import "geo-drill/cmd/geoctl/cmd"

func main() {
	cmd.Execute()
}

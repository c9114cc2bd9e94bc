package main

import "github.com/edupinhata/naval-gunbound-war/internal/daemon"

func main() { daemon.Main() }

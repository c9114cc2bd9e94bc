package main

import "github.com/edupinhata/naval-gunbound-war/internal/cli"

func main() { cli.Main() }

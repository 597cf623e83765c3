package main

import (
	"github.com/giantswarm/oidc-provider/cmd/oidc-provider/cmd"
)

func main() {
	cmd.Execute()
}

package internalcheck

import (
	"testing"

	"golang.org/x/tools/go/packages"
)

const modulePath = "github.com/pivot-spdz/dtree-client"

// protocolPackages are the packages that handle private inputs, triples or
// shares.
var protocolPackages = []string{
	modulePath + "/pkg/field",
	modulePath + "/pkg/input",
	modulePath + "/pkg/sharechan/...",
	modulePath + "/pkg/training",
	modulePath + "/pkg/binning",
	modulePath + "/pkg/indicator",
}

func loadProtocolPackages(t *testing.T) []*packages.Package {
	t.Helper()
	cfg := &packages.Config{
		Mode: packages.NeedSyntax | packages.NeedTypes | packages.NeedTypesInfo | packages.NeedFiles | packages.NeedName,
	}
	pkgs, err := packages.Load(cfg, protocolPackages...)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		t.Fatalf("packages contain errors")
	}
	return pkgs
}

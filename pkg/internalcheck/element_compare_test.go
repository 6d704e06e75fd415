package internalcheck

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"strings"
	"testing"
)

// TestNoDirectElementComparison rejects == and != on field elements and
// byte slices. Elements wrap a big.Int pointer, so == compares identity;
// Params.Equal compares values.
func TestNoDirectElementComparison(t *testing.T) {
	var findings []string

	for _, pkg := range loadProtocolPackages(t) {
		for _, file := range pkg.Syntax {
			ast.Inspect(file, func(n ast.Node) bool {
				be, ok := n.(*ast.BinaryExpr)
				if !ok || (be.Op != token.EQL && be.Op != token.NEQ) {
					return true
				}
				left := pkg.TypesInfo.TypeOf(be.X)
				right := pkg.TypesInfo.TypeOf(be.Y)

				switch {
				case isElement(left) && isElement(right):
					findings = append(findings, fmt.Sprintf("%s: avoid == on field elements; use Params.Equal", pkg.Fset.Position(be.Pos())))
				case isByteSlice(left) && isByteSlice(right):
					findings = append(findings, fmt.Sprintf("%s: avoid == on byte buffers; compare decoded elements", pkg.Fset.Position(be.Pos())))
				}
				return true
			})
		}
	}

	if len(findings) > 0 {
		t.Fatalf("comparison policy violation:\n%s", strings.Join(findings, "\n"))
	}
}

func isElement(typ types.Type) bool {
	return isNamed(typ, modulePath+"/pkg/field", "Element")
}

func isNamed(typ types.Type, pkgPath, name string) bool {
	if ptr, ok := typ.(*types.Pointer); ok {
		typ = ptr.Elem()
	}
	named, ok := typ.(*types.Named)
	if !ok {
		return false
	}
	obj := named.Obj()
	return obj.Pkg() != nil && obj.Pkg().Path() == pkgPath && obj.Name() == name
}

func isByteSlice(typ types.Type) bool {
	if typ == nil {
		return false
	}

	switch tt := typ.(type) {
	case *types.Slice:
		return isByte(tt.Elem())
	case *types.Pointer:
		return isByteSlice(tt.Elem())
	case *types.Named:
		return isByteSlice(tt.Underlying())
	case *types.Array:
		return isByte(tt.Elem())
	default:
		return false
	}
}

func isByte(t types.Type) bool {
	basic, ok := t.(*types.Basic)
	return ok && basic.Kind() == types.Byte
}

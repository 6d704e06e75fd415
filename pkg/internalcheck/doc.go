// Package internalcheck holds repository policy tests for the protocol
// packages.
//
// The tests load the packages under pkg/ with golang.org/x/tools/go/packages
// and walk their syntax trees. They enforce that shared values never reach
// logs or hex dumps and that field elements are compared by value.
//
// # Internal Use Only
//
// This package has no exported API and should not be imported.
package internalcheck

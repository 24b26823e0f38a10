package domain

import (
	"testing"

	"ordergate/testutil"
)

// The domain layer is the shared contract; it must not depend on implementations.
func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImport, "domain must stay free of internal packages")
}

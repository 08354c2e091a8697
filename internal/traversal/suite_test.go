package traversal_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestTraversal(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Traversal Suite")
}

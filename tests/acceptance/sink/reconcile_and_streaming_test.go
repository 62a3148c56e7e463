package acceptance_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/bfscrawl/sink/internal/sink/artifact"
	"github.com/bfscrawl/sink/internal/sink/electorates"
	"github.com/bfscrawl/sink/internal/sink/frontier"
	"github.com/bfscrawl/sink/internal/sink/layout"
	"github.com/bfscrawl/sink/internal/sink/reconcile"
	"github.com/bfscrawl/sink/internal/sink/routing"
	"github.com/bfscrawl/sink/internal/sink/streaming"
	"github.com/bfscrawl/sink/internal/sink/upload"
	"github.com/bfscrawl/sink/pkg/types"
)

func newAcceptanceRoots() *layout.Roots {
	roots, err := layout.NewRoots(GinkgoT().TempDir())
	Expect(err).NotTo(HaveOccurred())
	return roots
}

var _ = Describe("Streaming run finalize", func() {
	const domain, level, runID = "example.org", 1, "run-acceptance"

	It("is idempotent: re-finalizing an already-finalized bucket changes nothing", func() {
		roots := newAcceptanceRoots()

		Expect(streaming.Start(roots, domain, level, runID)).To(Succeed())
		Expect(streaming.Append(roots, domain, level, runID, types.StreamingRecord{
			Visited: []string{"https://example.org/a", "https://example.org/b"},
			Files:   []types.FileCandidate{{URL: "https://example.org/doc.pdf", Ext: "pdf"}},
		})).To(Succeed())

		first, err := streaming.Finalize(roots, domain, level, runID, streaming.FinalizeOptions{Encoding: artifact.MetaFirstRow})
		Expect(err).NotTo(HaveOccurred())
		Expect(first.AlreadyDone).To(BeFalse())
		Expect(first.DoneMarker.Visited).To(Equal(2))

		second, err := streaming.Finalize(roots, domain, level, runID, streaming.FinalizeOptions{Encoding: artifact.MetaFirstRow})
		Expect(err).NotTo(HaveOccurred())
		Expect(second.AlreadyDone).To(BeTrue())
		Expect(second.DoneMarker).To(Equal(first.DoneMarker))

		third, err := streaming.Finalize(roots, domain, level, runID, streaming.FinalizeOptions{Encoding: artifact.MetaFirstRow})
		Expect(err).NotTo(HaveOccurred())
		Expect(third.DoneMarker).To(Equal(first.DoneMarker))
	})
})

var _ = Describe("Frontier dedupe across levels", func() {
	const domain = "example.org"

	It("never resurfaces a page already visited at a strictly lower level, on every call", func() {
		roots := newAcceptanceRoots()

		_, err := frontier.Merge(roots, domain, frontier.Request{
			Level:   1,
			Visited: []string{"https://example.org/a"},
			Encoding: artifact.MetaFirstRow,
		})
		Expect(err).NotTo(HaveOccurred())

		req := frontier.Request{
			Level:           2,
			DiscoveredPages: []string{"https://example.org/a", "https://example.org/b"},
			Encoding:        artifact.MetaFirstRow,
		}

		first, err := frontier.Merge(roots, domain, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.NextFrontier).To(ConsistOf("https://example.org/b"))

		second, err := frontier.Merge(roots, domain, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.NextFrontier).To(Equal(first.NextFrontier))
	})
})

var _ = Describe("Resort reconciliation", func() {
	const domain = "example.org"

	It("reaches a fixed point: a second run over an already-consistent tree performs no actions", func() {
		roots := newAcceptanceRoots()
		policy := routing.NewFlatPolicy()

		_, err := upload.Upload(roots, domain, policy, nil, upload.Request{
			FileURL:  "https://example.org/report.pdf",
			Content:  []byte("%PDF-1.4 sample content"),
			Ext:      "pdf",
			BFSLevel: 1,
		}, "2026-01-01T00:00:00Z")
		Expect(err).NotTo(HaveOccurred())

		meta, err := electorates.Load(roots, domain)
		Expect(err).NotTo(HaveOccurred())

		first, err := reconcile.Run(roots, domain, policy, meta, reconcile.Options{Mode: reconcile.Apply}, "2026-01-01T00:01:00Z", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Actions).To(BeEmpty(), "tree just written by upload should already be consistent")

		second, err := reconcile.Run(roots, domain, policy, meta, reconcile.Options{Mode: reconcile.Apply}, "2026-01-01T00:02:00Z", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Actions).To(BeEmpty())
	})
})

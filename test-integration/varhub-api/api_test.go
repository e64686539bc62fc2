package integration

import (
	"net/http"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/varhub-io/varhub/test-integration/varhub-api/helpers"
)

const (
	waitTimeout = 10 * time.Second
	pollEvery   = 20 * time.Millisecond
)

type variantPage struct {
	Variants []struct {
		ID     string `json:"id"`
		Fields map[string]struct {
			Value  string `json:"value"`
			Source string `json:"source"`
		} `json:"fields"`
	} `json:"variants"`
	Total int `json:"total"`
}

type sourceView struct {
	Name   string `json:"name"`
	Status struct {
		Phase       string `json:"phase"`
		EntityCount int    `json:"entity_count"`
	} `json:"status"`
}

var _ = Describe("Variant Hub API", func() {
	var (
		tempDir string
		helper  *helpers.ServerTestHelper
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "varhub-test-")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if helper != nil {
			helper.Close()
			helper = nil
		}
		Expect(os.RemoveAll(tempDir)).To(Succeed())
	})

	waitForPhase := func(source, phase string) {
		EventuallyWithOffset(1, func() string {
			var view sourceView
			code, err := helper.GetJSON("/api/v1/sources/"+source, &view)
			if err != nil || code != http.StatusOK {
				return ""
			}
			return view.Status.Phase
		}, waitTimeout, pollEvery).Should(Equal(phase))
	}

	Context("refreshing a file source", func() {
		It("serves consolidated variants after a manual refresh", func() {
			cfg, err := helpers.WriteVariantsJSON(tempDir, "curated", 1, []map[string]any{
				{
					"variant_id":            "GRCh38:7:140753336:A:T",
					"gene":                  "BRAF",
					"clinical_significance": "Pathogenic",
				},
				{
					"variant_id":            "GRCh38:12:25245350:C:T",
					"gene":                  "KRAS",
					"clinical_significance": "Likely pathogenic",
				},
			})
			Expect(err).NotTo(HaveOccurred())

			helper, err = helpers.NewServerTestHelper(ctx, tempDir, cfg)
			Expect(err).NotTo(HaveOccurred())

			code, err := helper.TriggerRefresh("curated")
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(http.StatusAccepted))

			waitForPhase("curated", "Updated")

			var page variantPage
			code, err = helper.GetJSON("/api/v1/variants?gene=BRAF", &page)
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(http.StatusOK))
			Expect(page.Total).To(Equal(1))
			Expect(page.Variants[0].ID).To(Equal("GRCh38:7:140753336:A:T"))
			Expect(page.Variants[0].Fields["gene"].Source).To(Equal("curated"))
		})

		It("reports Unchanged when the payload did not change", func() {
			cfg, err := helpers.WriteVariantsJSON(tempDir, "curated", 1, []map[string]any{
				{"variant_id": "GRCh38:1:100:A:G", "gene": "TP53"},
			})
			Expect(err).NotTo(HaveOccurred())

			helper, err = helpers.NewServerTestHelper(ctx, tempDir, cfg)
			Expect(err).NotTo(HaveOccurred())

			_, err = helper.TriggerRefresh("curated")
			Expect(err).NotTo(HaveOccurred())
			waitForPhase("curated", "Updated")

			_, err = helper.TriggerRefresh("curated")
			Expect(err).NotTo(HaveOccurred())
			waitForPhase("curated", "Unchanged")

			var page variantPage
			_, err = helper.GetJSON("/api/v1/variants", &page)
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Total).To(Equal(1))
		})
	})

	Context("merging two sources", func() {
		It("resolves field conflicts by priority regardless of refresh order", func() {
			primary, err := helpers.WriteVariantsJSON(tempDir, "primary", 1, []map[string]any{
				{"variant_id": "GRCh38:17:7674220:C:T", "gene": "TP53", "clinical_significance": "Pathogenic"},
			})
			Expect(err).NotTo(HaveOccurred())
			secondary, err := helpers.WriteVariantsJSON(tempDir, "secondary", 2, []map[string]any{
				{"variant_id": "GRCh38:17:7674220:C:T", "gene": "WRONG", "review_status": "reviewed"},
			})
			Expect(err).NotTo(HaveOccurred())

			helper, err = helpers.NewServerTestHelper(ctx, tempDir, primary, secondary)
			Expect(err).NotTo(HaveOccurred())

			// Lower-priority source lands first; the higher-priority value
			// must still win once it arrives.
			_, err = helper.TriggerRefresh("secondary")
			Expect(err).NotTo(HaveOccurred())
			waitForPhase("secondary", "Updated")

			_, err = helper.TriggerRefresh("primary")
			Expect(err).NotTo(HaveOccurred())
			waitForPhase("primary", "Updated")

			var page variantPage
			code, err := helper.GetJSON("/api/v1/variants/GRCh38:17:7674220:C:T", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(http.StatusOK))

			_, err = helper.GetJSON("/api/v1/variants", &page)
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Total).To(Equal(1))
			fields := page.Variants[0].Fields
			Expect(fields["gene"].Value).To(Equal("TP53"))
			Expect(fields["gene"].Source).To(Equal("primary"))
			// Fields only the lower-priority source carries still merge in.
			Expect(fields["review_status"].Value).To(Equal("reviewed"))
			Expect(fields["review_status"].Source).To(Equal("secondary"))
		})
	})

	Context("failing sources", func() {
		It("keeps serving the last committed data after a failed refresh", func() {
			cfg, err := helpers.WriteVariantsJSON(tempDir, "curated", 1, []map[string]any{
				{"variant_id": "GRCh38:3:300:G:A", "gene": "PTEN"},
			})
			Expect(err).NotTo(HaveOccurred())

			helper, err = helpers.NewServerTestHelper(ctx, tempDir, cfg)
			Expect(err).NotTo(HaveOccurred())

			_, err = helper.TriggerRefresh("curated")
			Expect(err).NotTo(HaveOccurred())
			waitForPhase("curated", "Updated")

			// Upstream disappears.
			Expect(os.Remove(cfg.File.Path)).To(Succeed())

			_, err = helper.TriggerRefresh("curated")
			Expect(err).NotTo(HaveOccurred())
			waitForPhase("curated", "Failed")

			var page variantPage
			_, err = helper.GetJSON("/api/v1/variants?gene=PTEN", &page)
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Total).To(Equal(1), "stale data should remain queryable")
		})
	})

	Context("deregistering a source", func() {
		It("removes the source's contributions and its status", func() {
			cfg, err := helpers.WriteVariantsJSON(tempDir, "curated", 1, []map[string]any{
				{"variant_id": "GRCh38:9:900:T:C", "gene": "RB1"},
			})
			Expect(err).NotTo(HaveOccurred())

			helper, err = helpers.NewServerTestHelper(ctx, tempDir, cfg)
			Expect(err).NotTo(HaveOccurred())

			_, err = helper.TriggerRefresh("curated")
			Expect(err).NotTo(HaveOccurred())
			waitForPhase("curated", "Updated")

			req, err := http.NewRequest(http.MethodDelete, helper.URL("/api/v1/sources/curated"), nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			var page variantPage
			_, err = helper.GetJSON("/api/v1/variants", &page)
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Total).To(BeZero())

			code, err := helper.GetJSON("/api/v1/sources/curated", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(http.StatusNotFound))
		})
	})

	Context("operational endpoints", func() {
		It("exposes health, version and metrics", func() {
			cfg, err := helpers.WriteVariantsJSON(tempDir, "curated", 1, nil)
			Expect(err).NotTo(HaveOccurred())

			helper, err = helpers.NewServerTestHelper(ctx, tempDir, cfg)
			Expect(err).NotTo(HaveOccurred())

			for _, path := range []string{"/health", "/readiness", "/version", "/metrics"} {
				code, err := helper.GetJSON(path, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(code).To(Equal(http.StatusOK), path)
			}
		})
	})
})

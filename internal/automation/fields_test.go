package automation_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"whatsapp-crm/internal/automation"
	"whatsapp-crm/internal/models"
)

var _ = Describe("FillTemplate", func() {
	It("substitutes answers case-insensitively", func() {
		en := &models.Enquiry{Name: "Jane", Budget: "1M+"}
		Expect(automation.FillTemplate("Hi {{NAME}}, budget {{budget}} for {{projectName}}", en)).
			To(Equal("Hi Jane, budget 1M+ for our project"))
	})

	It("leaves unknown placeholders alone", func() {
		Expect(automation.FillTemplate("{{unknown}}", &models.Enquiry{})).To(Equal("{{unknown}}"))
	})
})

var _ = Describe("ProjectFromURL", func() {
	It("title-cases the slug after properties", func() {
		project, pageURL := automation.ProjectFromURL("look at https://capitalavenue.ae/en/properties/sobha-hartland-ii?ref=ad please")
		Expect(project).To(Equal("Sobha Hartland Ii"))
		Expect(pageURL).To(Equal("https://capitalavenue.ae/en/properties/sobha-hartland-ii?ref=ad"))
	})

	It("ignores links without a properties segment", func() {
		project, _ := automation.ProjectFromURL("https://capitalavenue.ae/en/about")
		Expect(project).To(BeEmpty())
	})

	It("ignores text without links", func() {
		project, _ := automation.ProjectFromURL("properties/sobha")
		Expect(project).To(BeEmpty())
	})
})

var _ = DescribeTable("IsValidEmail",
	func(in string, valid bool) {
		Expect(automation.IsValidEmail(in)).To(Equal(valid))
	},
	Entry("plain address", "name@example.com", true),
	Entry("surrounding spaces", "  name@example.com ", true),
	Entry("no domain dot", "name@example", false),
	Entry("no at sign", "name.example.com", false),
	Entry("inner space", "na me@example.com", false),
)

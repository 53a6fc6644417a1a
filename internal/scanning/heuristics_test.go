package scanning

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

func draftWith(amount string, confidence int) *Draft {
	return &Draft{
		Amount:      decimal.RequireFromString(amount),
		Confidence:  confidence,
		Description: "Market",
	}
}

var _ = Describe("Evaluate", func() {
	var (
		draft *Draft
		cfg   HeuristicConfig
		ev    Evaluation
	)

	BeforeEach(func() {
		cfg = DefaultHeuristicConfig()
	})

	JustBeforeEach(func() {
		ev = Evaluate(draft, cfg)
	})

	When("the extraction is confident with a normal amount", func() {
		BeforeEach(func() {
			draft = draftWith("45.50", 82)
		})

		It("accepts the local result", func() {
			Expect(ev.CanUseLocalResult).To(BeTrue())
		})

		It("does not flag the amount as suspicious", func() {
			Expect(ev.AmountIsSuspiciouslyLarge).To(BeFalse())
		})
	})

	When("confidence is below the minimum", func() {
		BeforeEach(func() {
			draft = draftWith("45.50", 59)
		})

		It("rejects the local result", func() {
			Expect(ev.CanUseLocalResult).To(BeFalse())
		})
	})

	When("confidence is exactly at the minimum", func() {
		BeforeEach(func() {
			draft = draftWith("45.50", 60)
		})

		It("accepts the local result", func() {
			Expect(ev.CanUseLocalResult).To(BeTrue())
		})
	})

	When("the amount is zero", func() {
		BeforeEach(func() {
			draft = draftWith("0", 95)
		})

		It("rejects the local result", func() {
			Expect(ev.CanUseLocalResult).To(BeFalse())
		})

		It("reports maximal line item deviation", func() {
			Expect(ev.LineItemSumDeviation).To(Equal(1.0))
		})
	})

	When("the amount is negative", func() {
		BeforeEach(func() {
			draft = draftWith("-12.00", 95)
		})

		It("rejects the local result", func() {
			Expect(ev.CanUseLocalResult).To(BeFalse())
		})
	})

	Describe("the suspicious large total boundary", func() {
		When("the amount is just under the threshold at low confidence", func() {
			BeforeEach(func() {
				draft = draftWith("999.99", 50)
			})

			It("is not suspicious", func() {
				Expect(ev.AmountIsSuspiciouslyLarge).To(BeFalse())
			})
		})

		When("the amount is at the threshold just below trusted confidence", func() {
			BeforeEach(func() {
				draft = draftWith("1000.00", 74)
			})

			It("is suspicious", func() {
				Expect(ev.AmountIsSuspiciouslyLarge).To(BeTrue())
			})

			It("rejects the local result even above the confidence minimum", func() {
				Expect(ev.CanUseLocalResult).To(BeFalse())
			})
		})

		When("the amount is at the threshold at trusted confidence", func() {
			BeforeEach(func() {
				draft = draftWith("1000.00", 75)
			})

			It("is not suspicious", func() {
				Expect(ev.AmountIsSuspiciouslyLarge).To(BeFalse())
			})

			It("accepts the local result", func() {
				Expect(ev.CanUseLocalResult).To(BeTrue())
			})
		})

		When("the amount is enormous at trusted confidence", func() {
			BeforeEach(func() {
				draft = draftWith("999999.00", 98)
			})

			It("is never forced to rejection by size alone", func() {
				Expect(ev.CanUseLocalResult).To(BeTrue())
			})
		})
	})

	Describe("item text ratio", func() {
		When("there are no items", func() {
			BeforeEach(func() {
				draft = draftWith("45.50", 82)
			})

			It("reports a zero ratio", func() {
				Expect(ev.ItemsWithTextRatio).To(BeZero())
			})

			It("does not consider the items usable", func() {
				Expect(ev.ItemsLookUsable).To(BeFalse())
			})
		})

		When("half the items have readable names", func() {
			BeforeEach(func() {
				draft = draftWith("45.50", 82)
				draft.Items = []DraftItem{
					{Name: "Ekmek", TotalPrice: decimal.RequireFromString("5.00")},
					{Name: "1234 --", TotalPrice: decimal.RequireFromString("40.50")},
				}
			})

			It("reports a half ratio", func() {
				Expect(ev.ItemsWithTextRatio).To(Equal(0.5))
			})

			It("considers the items usable at the ratio boundary", func() {
				Expect(ev.ItemsLookUsable).To(BeTrue())
			})
		})

		When("most items are OCR noise", func() {
			BeforeEach(func() {
				draft = draftWith("45.50", 82)
				draft.Items = []DraftItem{
					{Name: "Süt", TotalPrice: decimal.RequireFromString("5.00")},
					{Name: "%%%", TotalPrice: decimal.RequireFromString("1.00")},
					{Name: "....", TotalPrice: decimal.RequireFromString("2.00")},
				}
			})

			It("does not consider the items usable", func() {
				Expect(ev.ItemsLookUsable).To(BeFalse())
			})
		})
	})

	Describe("line item sum deviation", func() {
		When("item totals match the overall amount", func() {
			BeforeEach(func() {
				draft = draftWith("10.00", 82)
				draft.Items = []DraftItem{
					{Name: "Ekmek", TotalPrice: decimal.RequireFromString("4.00")},
					{Name: "Süt", TotalPrice: decimal.RequireFromString("6.00")},
				}
			})

			It("reports zero deviation", func() {
				Expect(ev.LineItemSumDeviation).To(BeZero())
			})
		})

		When("item totals disagree with the overall amount", func() {
			BeforeEach(func() {
				draft = draftWith("10.00", 82)
				draft.Items = []DraftItem{
					{Name: "Ekmek", TotalPrice: decimal.RequireFromString("5.00")},
				}
			})

			It("reports the relative difference", func() {
				Expect(ev.LineItemSumDeviation).To(BeNumerically("~", 0.5, 1e-9))
			})
		})

		When("there are no priced items", func() {
			BeforeEach(func() {
				draft = draftWith("10.00", 82)
			})

			It("reports maximal deviation", func() {
				Expect(ev.LineItemSumDeviation).To(Equal(1.0))
			})
		})
	})

	Describe("description plausibility", func() {
		When("the description is a merchant name", func() {
			BeforeEach(func() {
				draft = draftWith("45.50", 82)
				draft.Description = "Migros"
			})

			It("is plausible", func() {
				Expect(ev.DescriptionIsPlausible).To(BeTrue())
			})
		})

		When("the description is the placeholder", func() {
			BeforeEach(func() {
				draft = draftWith("45.50", 82)
				draft.Description = defaultDescription
			})

			It("is not plausible", func() {
				Expect(ev.DescriptionIsPlausible).To(BeFalse())
			})
		})

		When("the description is too short", func() {
			BeforeEach(func() {
				draft = draftWith("45.50", 82)
				draft.Description = "ab"
			})

			It("is not plausible", func() {
				Expect(ev.DescriptionIsPlausible).To(BeFalse())
			})
		})

		When("the description is only digits and punctuation", func() {
			BeforeEach(func() {
				draft = draftWith("45.50", 82)
				draft.Description = "12:34 ---"
			})

			It("is not plausible", func() {
				Expect(ev.DescriptionIsPlausible).To(BeFalse())
			})
		})

		When("the description uses extended letters", func() {
			BeforeEach(func() {
				draft = draftWith("45.50", 82)
				draft.Description = "Şarküteri"
			})

			It("is plausible", func() {
				Expect(ev.DescriptionIsPlausible).To(BeTrue())
			})
		})
	})
})

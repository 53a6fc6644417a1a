package ledger

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltStore", func() {
	var store *BoltStore

	BeforeEach(func() {
		var err error
		store, err = NewBoltStore(filepath.Join(GinkgoT().TempDir(), "ledger.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)
	})

	Describe("accounts", func() {
		It("round-trips an account", func() {
			account := &Account{
				ID:             "acct-1",
				UserID:         "user-1",
				Name:           "Checking",
				Currency:       "TRY",
				Balance:        dec("1000"),
				OverdraftLimit: dec("200"),
			}
			Expect(store.SaveAccount(account)).To(Succeed())

			got, err := store.GetAccount("acct-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Name).To(Equal("Checking"))
			Expect(got.Balance).To(beDec("1000"))
			Expect(got.OverdraftLimit).To(beDec("200"))
		})

		It("returns ErrNotFound for a missing account", func() {
			_, err := store.GetAccount("missing")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("lists saved accounts", func() {
			Expect(store.SaveAccount(&Account{ID: "a1", Name: "One"})).To(Succeed())
			Expect(store.SaveAccount(&Account{ID: "a2", Name: "Two"})).To(Succeed())

			accounts, err := store.ListAccounts()
			Expect(err).NotTo(HaveOccurred())
			Expect(accounts).To(HaveLen(2))
		})

		It("deletes an account", func() {
			Expect(store.SaveAccount(&Account{ID: "a1"})).To(Succeed())
			Expect(store.DeleteAccount("a1")).To(Succeed())
			_, err := store.GetAccount("a1")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("ApplyDelta on an account", func() {
		BeforeEach(func() {
			Expect(store.SaveAccount(&Account{
				ID:             "acct-1",
				Balance:        dec("500"),
				OverdraftLimit: dec("100"),
			})).To(Succeed())
		})

		It("adds the delta to the balance", func() {
			result, err := store.ApplyDelta(BalanceDelta{Entity: AccountRef("acct-1"), Amount: dec("-150")})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.NewBalance).To(beDec("350"))
			Expect(result.Applied.Amount).To(beDec("-150"))

			account, _ := store.GetAccount("acct-1")
			Expect(account.Balance).To(beDec("350"))
		})

		It("allows going negative within the overdraft limit", func() {
			result, err := store.ApplyDelta(BalanceDelta{Entity: AccountRef("acct-1"), Amount: dec("-600")})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.NewBalance).To(beDec("-100"))
		})

		It("rejects a delta beyond the overdraft limit and leaves the balance intact", func() {
			_, err := store.ApplyDelta(BalanceDelta{Entity: AccountRef("acct-1"), Amount: dec("-601")})
			Expect(err).To(MatchError(ErrOverdraftExceeded))

			account, _ := store.GetAccount("acct-1")
			Expect(account.Balance).To(beDec("500"))
		})

		It("fails for a missing account", func() {
			_, err := store.ApplyDelta(BalanceDelta{Entity: AccountRef("missing"), Amount: dec("10")})
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("ApplyDelta on a card", func() {
		BeforeEach(func() {
			Expect(store.SaveCard(&CreditCard{
				ID:             "card-1",
				Balance:        dec("300"),
				Limit:          dec("5000"),
				MinimumPayment: dec("90"),
			})).To(Succeed())
		})

		It("applies a positive delta as debt growth", func() {
			result, err := store.ApplyDelta(BalanceDelta{Entity: CardRef("card-1"), Amount: dec("150")})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.NewBalance).To(beDec("450"))
			Expect(result.Cleared).To(BeFalse())
		})

		It("applies a partial payment without clearing", func() {
			result, err := store.ApplyDelta(BalanceDelta{Entity: CardRef("card-1"), Amount: dec("-100")})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.NewBalance).To(beDec("200"))
			Expect(result.Applied.Amount).To(beDec("-100"))
			Expect(result.Cleared).To(BeFalse())
		})

		It("floors at zero and reports the clipped delta", func() {
			result, err := store.ApplyDelta(BalanceDelta{Entity: CardRef("card-1"), Amount: dec("-500")})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.NewBalance).To(beDec("0"))
			Expect(result.Applied.Amount).To(beDec("-300"))
			Expect(result.Cleared).To(BeTrue())

			card, _ := store.GetCard("card-1")
			Expect(card.Balance).To(beDec("0"))
		})

		It("marks an exact payoff as cleared", func() {
			result, err := store.ApplyDelta(BalanceDelta{Entity: CardRef("card-1"), Amount: dec("-300")})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Cleared).To(BeTrue())
			Expect(result.Applied.Amount).To(beDec("-300"))
		})

		It("does not mark a debt increase on a zero balance as cleared", func() {
			Expect(store.SaveCard(&CreditCard{ID: "card-2"})).To(Succeed())
			result, err := store.ApplyDelta(BalanceDelta{Entity: CardRef("card-2"), Amount: dec("50")})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Cleared).To(BeFalse())
		})
	})

	Describe("ResetCardMinimumPayment", func() {
		It("zeroes the minimum payment", func() {
			Expect(store.SaveCard(&CreditCard{ID: "card-1", MinimumPayment: dec("90")})).To(Succeed())
			Expect(store.ResetCardMinimumPayment("card-1")).To(Succeed())

			card, _ := store.GetCard("card-1")
			Expect(card.MinimumPayment).To(beDec("0"))
		})

		It("fails for a missing card", func() {
			Expect(store.ResetCardMinimumPayment("missing")).To(MatchError(ErrNotFound))
		})
	})

	Describe("transactions", func() {
		It("round-trips a transaction with its applied deltas", func() {
			txn := &Transaction{
				ID:     "txn-1",
				UserID: "user-1",
				Type:   TypeExpense,
				Amount: dec("45.50"),
				Entity: AccountRef("acct-1"),
				AppliedDeltas: []BalanceDelta{
					{Entity: AccountRef("acct-1"), Amount: dec("-45.50")},
				},
			}
			Expect(store.SaveTransaction(txn)).To(Succeed())

			got, err := store.GetTransaction("txn-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Amount).To(beDec("45.50"))
			Expect(got.Entity).To(Equal(AccountRef("acct-1")))
			Expect(got.AppliedDeltas).To(HaveLen(1))
			Expect(got.AppliedDeltas[0].Amount).To(beDec("-45.50"))
		})

		It("overwrites on save with the same id", func() {
			Expect(store.SaveTransaction(&Transaction{ID: "txn-1", Amount: dec("10")})).To(Succeed())
			Expect(store.SaveTransaction(&Transaction{ID: "txn-1", Amount: dec("20")})).To(Succeed())

			got, err := store.GetTransaction("txn-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Amount).To(beDec("20"))

			txns, _ := store.ListTransactions()
			Expect(txns).To(HaveLen(1))
		})

		It("deletes a transaction", func() {
			Expect(store.SaveTransaction(&Transaction{ID: "txn-1"})).To(Succeed())
			Expect(store.DeleteTransaction("txn-1")).To(Succeed())
			_, err := store.GetTransaction("txn-1")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("receipt items", func() {
		It("lists only the items of the requested transaction", func() {
			Expect(store.SaveReceiptItem(&ReceiptItem{ID: "i1", TransactionID: "txn-1", Name: "Ekmek"})).To(Succeed())
			Expect(store.SaveReceiptItem(&ReceiptItem{ID: "i2", TransactionID: "txn-1", Name: "Süt"})).To(Succeed())
			Expect(store.SaveReceiptItem(&ReceiptItem{ID: "i3", TransactionID: "txn-2", Name: "Peynir"})).To(Succeed())

			items, err := store.ListReceiptItems("txn-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(2))
		})

		It("returns an empty list for a transaction without items", func() {
			items, err := store.ListReceiptItems("txn-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(BeEmpty())
		})
	})
})

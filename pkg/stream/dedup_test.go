package stream

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Deduplicator", func() {
	var d *Deduplicator

	BeforeEach(func() {
		d = NewDeduplicator(DefaultMinFragmentLength, DefaultSimilarityThreshold)
	})

	It("accepts distinct fragments", func() {
		Expect(d.Accept("The quick brown fox")).To(BeTrue())
		Expect(d.Accept("jumps over the lazy dog")).To(BeTrue())
	})

	It("suppresses an exact repeat of a long fragment", func() {
		Expect(d.Accept("The quick brown fox")).To(BeTrue())
		Expect(d.Accept("The quick brown fox")).To(BeFalse())
	})

	It("suppresses a near-identical long fragment at the threshold", func() {
		// One trailing character over ~30: similarity well above 0.85.
		Expect(d.Accept("The quick brown fox jumps over")).To(BeTrue())
		Expect(d.Accept("The quick brown fox jumps over.")).To(BeFalse())
	})

	It("emits both fragments when similarity is below the threshold", func() {
		Expect(d.Accept("The quick brown fox")).To(BeTrue())
		Expect(d.Accept("An entirely different sentence")).To(BeTrue())
	})

	It("compares short fragments by exact equality only", func() {
		Expect(d.Accept("Hi!")).To(BeTrue())
		Expect(d.Accept("Hi!")).To(BeFalse())
		// Near-identical but short: no similarity check applies.
		Expect(d.Accept("Hi?")).To(BeTrue())
	})

	It("compares short priors by equality even for a long candidate", func() {
		Expect(d.Accept("Hello.")).To(BeTrue())
		// Long candidate vs short prior: equality test, not similarity.
		Expect(d.Accept("Hello. How are you today?")).To(BeTrue())
	})

	It("checks candidates against every fragment accepted so far", func() {
		Expect(d.Accept("first fragment of text")).To(BeTrue())
		Expect(d.Accept("second fragment of text here")).To(BeTrue())
		Expect(d.Accept("third wholly unrelated words")).To(BeTrue())
		// Repeats the first accepted fragment, not merely the latest.
		Expect(d.Accept("first fragment of text")).To(BeFalse())
	})

	It("counts length in runes, not bytes", func() {
		// Nine CJK characters: 27 bytes but under the default min length,
		// so only exact equality applies.
		short := "你好世界你好世界你"
		Expect(d.Accept(short)).To(BeTrue())
		Expect(d.Accept(short)).To(BeFalse())
	})

	It("falls back to defaults for non-positive tunables", func() {
		dd := NewDeduplicator(0, 0)
		Expect(dd.minLength).To(Equal(DefaultMinFragmentLength))
		Expect(dd.threshold).To(Equal(DefaultSimilarityThreshold))
	})
})

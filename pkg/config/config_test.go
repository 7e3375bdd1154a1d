package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pjgq/relay/pkg/config"
)

var _ = Describe("Configer", func() {
	var (
		dir      string
		configer *config.Configer
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()

		var err error
		configer, err = config.NewConfiger(dir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("LoadConfig", func() {
		It("returns defaults when no config file exists", func() {
			cfg, err := configer.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Server.Listen).To(Equal(":8080"))
			Expect(cfg.Storage.Driver).To(Equal("sqlite"))
			Expect(cfg.Stream.MinFragmentLength).To(Equal(10))
			Expect(cfg.Stream.SimilarityThreshold).To(Equal(0.85))
			Expect(cfg.Stream.HistoryLimit).To(Equal(20))
			Expect(cfg.Auth.TokenTTLMinutes).To(Equal(uint(30)))
		})

		It("fills missing fields with defaults", func() {
			raw := []byte("[server]\nlisten = \":9090\"\n")
			Expect(os.WriteFile(filepath.Join(dir, "config.toml"), raw, 0o600)).To(Succeed())

			cfg, err := configer.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Server.Listen).To(Equal(":9090"))
			Expect(cfg.Stream.MinFragmentLength).To(Equal(10))
		})
	})

	Describe("SaveConfig", func() {
		It("round-trips the full config", func() {
			cfg := config.NewDefaultConfig()
			cfg.Upstream.BotID = "bot-42"
			cfg.Events.Brokers = []string{"kafka-1:9092", "kafka-2:9092"}

			Expect(configer.SaveConfig(cfg)).To(Succeed())

			loaded, err := configer.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Upstream.BotID).To(Equal("bot-42"))
			Expect(loaded.Events.Brokers).To(Equal([]string{"kafka-1:9092", "kafka-2:9092"}))
		})

		It("rejects a nil config", func() {
			Expect(configer.SaveConfig(nil)).To(HaveOccurred())
		})
	})

	Describe("SetConfigValue and GetConfigValue", func() {
		It("sets and gets string keys", func() {
			Expect(configer.SetConfigValue("upstream.bot_id", "bot-7")).To(Succeed())

			got, err := configer.GetConfigValue("upstream.bot_id")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal("bot-7"))
		})

		It("parses numeric keys", func() {
			Expect(configer.SetConfigValue("stream.min_fragment_length", "15")).To(Succeed())

			cfg, err := configer.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Stream.MinFragmentLength).To(Equal(15))

			Expect(configer.SetConfigValue("stream.min_fragment_length", "abc")).To(HaveOccurred())
		})

		It("splits broker lists on commas", func() {
			Expect(configer.SetConfigValue("events.brokers", "a:9092, b:9092")).To(Succeed())

			cfg, err := configer.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Events.Brokers).To(Equal([]string{"a:9092", "b:9092"}))
		})

		It("rejects unknown keys", func() {
			Expect(configer.SetConfigValue("nope.nope", "x")).To(HaveOccurred())
			_, err := configer.GetConfigValue("nope.nope")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ValidConfigKeys", func() {
		It("lists every supported key", func() {
			keys := config.ValidConfigKeys()
			Expect(keys).To(ContainElements(
				"server.listen",
				"upstream.url",
				"upstream.api_key",
				"upstream.bot_id",
				"auth.jwt_secret",
				"storage.driver",
				"stream.similarity_threshold",
				"events.topic",
				"client.target",
			))
			for _, k := range keys {
				Expect(config.IsValidConfigKey(k)).To(BeTrue())
			}
		})
	})

	Describe("ParseConfigTOML", func() {
		It("rejects unsupported versions", func() {
			_, err := config.ParseConfigTOML([]byte("version = 99\n"))
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("InitViper", func() {
	It("applies defaults and env overrides", func() {
		GinkgoT().Setenv("RELAY_SERVER_LISTEN", ":7070")

		v, err := config.InitViper(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())

		Expect(v.GetString("server.listen")).To(Equal(":7070"))
		Expect(v.GetString("storage.driver")).To(Equal("sqlite"))
		Expect(v.GetFloat64("stream.similarity_threshold")).To(Equal(0.85))
	})

	It("reads values from config.toml", func() {
		dir := GinkgoT().TempDir()
		raw := []byte("[upstream]\nbot_id = \"bot-9\"\n")
		Expect(os.WriteFile(filepath.Join(dir, "config.toml"), raw, 0o600)).To(Succeed())

		v, err := config.InitViper(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.GetString("upstream.bot_id")).To(Equal("bot-9"))
	})
})

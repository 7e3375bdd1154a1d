package authcmder_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	authcmder "github.com/pjgq/relay/cmd/relay/auth"
	"github.com/pjgq/relay/pkg/credentials"
)

// pipePassword replaces os.Stdin with a pipe carrying the given password so
// the commands read it non-interactively. Returns a restore func.
func pipePassword(password string) func() {
	orig := os.Stdin

	r, w, err := os.Pipe()
	Expect(err).NotTo(HaveOccurred())

	_, err = w.WriteString(password + "\n")
	Expect(err).NotTo(HaveOccurred())
	Expect(w.Close()).To(Succeed())

	os.Stdin = r

	return func() {
		os.Stdin = orig
		r.Close()
	}
}

var _ = Describe("NewRegisterCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := authcmder.NewRegisterCmd()
		Expect(cmd.Use).To(Equal("register <user-id>"))
		Expect(cmd.Short).NotTo(BeEmpty())
	})

	It("has --target flag with default value", func() {
		cmd := authcmder.NewRegisterCmd()
		flag := cmd.Flags().Lookup("target")
		Expect(flag).NotTo(BeNil())
		Expect(flag.Shorthand).To(Equal("t"))
		Expect(flag.DefValue).To(Equal("http://localhost:8080"))
	})

	It("has --username flag", func() {
		cmd := authcmder.NewRegisterCmd()
		flag := cmd.Flags().Lookup("username")
		Expect(flag).NotTo(BeNil())
	})

	It("requires exactly one argument", func() {
		cmd := authcmder.NewRegisterCmd()
		cmd.SetArgs([]string{})
		err := cmd.Execute()
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("NewLoginCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := authcmder.NewLoginCmd()
		Expect(cmd.Use).To(Equal("login <user-id>"))
	})

	It("has --target flag", func() {
		cmd := authcmder.NewLoginCmd()
		flag := cmd.Flags().Lookup("target")
		Expect(flag).NotTo(BeNil())
		Expect(flag.Shorthand).To(Equal("t"))
	})

	It("requires exactly one argument", func() {
		cmd := authcmder.NewLoginCmd()
		cmd.SetArgs([]string{"alice", "bob"})
		err := cmd.Execute()
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Register command execution", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "relay-auth-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("registers against a server and stores the issued token", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/register"))
			Expect(r.Method).To(Equal(http.MethodPost))

			var payload map[string]string
			Expect(json.NewDecoder(r.Body).Decode(&payload)).To(Succeed())
			Expect(payload["user_id"]).To(Equal("alice"))
			Expect(payload["username"]).To(Equal("Alice Smith"))
			Expect(payload["password"]).To(Equal("hunter2"))

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{
				"access_token": "tok-alice",
				"token_type":   "Bearer",
			})
		}))
		defer server.Close()

		restore := pipePassword("hunter2")
		defer restore()

		cmd := authcmder.NewRegisterCmd()
		cmd.PersistentFlags().String("config-dir", "", "Override path to .relay/ config directory")
		cmd.SetArgs([]string{"alice", "--username", "Alice Smith", "--target", server.URL, "--config-dir", tmpDir})

		err := cmd.Execute()
		Expect(err).NotTo(HaveOccurred())

		mgr, err := credentials.NewManager(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		token, err := mgr.GetToken()
		Expect(err).NotTo(HaveOccurred())
		Expect(token).To(Equal("tok-alice"))
	})

	It("omits the username field when not given", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var payload map[string]string
			Expect(json.NewDecoder(r.Body).Decode(&payload)).To(Succeed())
			Expect(payload).NotTo(HaveKey("username"))

			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "token_type": "Bearer"})
		}))
		defer server.Close()

		restore := pipePassword("hunter2")
		defer restore()

		cmd := authcmder.NewRegisterCmd()
		cmd.PersistentFlags().String("config-dir", "", "Override path to .relay/ config directory")
		cmd.SetArgs([]string{"bob", "--target", server.URL, "--config-dir", tmpDir})

		Expect(cmd.Execute()).To(Succeed())
	})

	It("surfaces the server's error message on conflict", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"error": "user already exists"})
		}))
		defer server.Close()

		restore := pipePassword("hunter2")
		defer restore()

		cmd := authcmder.NewRegisterCmd()
		cmd.PersistentFlags().String("config-dir", "", "Override path to .relay/ config directory")
		cmd.SetArgs([]string{"alice", "--target", server.URL, "--config-dir", tmpDir})

		err := cmd.Execute()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("user already exists"))
	})

	It("rejects an empty password", func() {
		restore := pipePassword("")
		defer restore()

		cmd := authcmder.NewRegisterCmd()
		cmd.PersistentFlags().String("config-dir", "", "Override path to .relay/ config directory")
		cmd.SetArgs([]string{"alice", "--target", "http://localhost:0", "--config-dir", tmpDir})

		err := cmd.Execute()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("password"))
	})
})

var _ = Describe("Login command execution", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "relay-auth-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("logs in and stores the issued token", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/login"))

			var payload map[string]string
			Expect(json.NewDecoder(r.Body).Decode(&payload)).To(Succeed())
			Expect(payload["user_id"]).To(Equal("alice"))
			Expect(payload["password"]).To(Equal("hunter2"))

			json.NewEncoder(w).Encode(map[string]string{
				"access_token": "tok-fresh",
				"token_type":   "Bearer",
			})
		}))
		defer server.Close()

		restore := pipePassword("hunter2")
		defer restore()

		cmd := authcmder.NewLoginCmd()
		cmd.PersistentFlags().String("config-dir", "", "Override path to .relay/ config directory")
		cmd.SetArgs([]string{"alice", "--target", server.URL, "--config-dir", tmpDir})

		Expect(cmd.Execute()).To(Succeed())

		mgr, err := credentials.NewManager(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		token, err := mgr.GetToken()
		Expect(err).NotTo(HaveOccurred())
		Expect(token).To(Equal("tok-fresh"))
	})

	It("replaces a previously stored token", func() {
		mgr, err := credentials.NewManager(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(mgr.SetToken("alice", "tok-stale")).To(Succeed())

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-fresh", "token_type": "Bearer"})
		}))
		defer server.Close()

		restore := pipePassword("hunter2")
		defer restore()

		cmd := authcmder.NewLoginCmd()
		cmd.PersistentFlags().String("config-dir", "", "Override path to .relay/ config directory")
		cmd.SetArgs([]string{"alice", "--target", server.URL, "--config-dir", tmpDir})

		Expect(cmd.Execute()).To(Succeed())

		token, err := mgr.GetToken()
		Expect(err).NotTo(HaveOccurred())
		Expect(token).To(Equal("tok-fresh"))
	})

	It("fails when the server rejects the credentials", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
		}))
		defer server.Close()

		restore := pipePassword("wrong")
		defer restore()

		cmd := authcmder.NewLoginCmd()
		cmd.PersistentFlags().String("config-dir", "", "Override path to .relay/ config directory")
		cmd.SetArgs([]string{"alice", "--target", server.URL, "--config-dir", tmpDir})

		err := cmd.Execute()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("invalid credentials"))

		// No token should have been stored
		mgr, err := credentials.NewManager(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		token, err := mgr.GetToken()
		Expect(err).NotTo(HaveOccurred())
		Expect(token).To(BeEmpty())
	})

	It("fails when the response carries no access token", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"token_type": "Bearer"})
		}))
		defer server.Close()

		restore := pipePassword("hunter2")
		defer restore()

		cmd := authcmder.NewLoginCmd()
		cmd.PersistentFlags().String("config-dir", "", "Override path to .relay/ config directory")
		cmd.SetArgs([]string{"alice", "--target", server.URL, "--config-dir", tmpDir})

		err := cmd.Execute()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("access token"))
	})
})

var _ = Describe("Logout command execution", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "relay-auth-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("removes a stored token", func() {
		mgr, err := credentials.NewManager(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(mgr.SetToken("alice", "tok-alice")).To(Succeed())

		cmd := authcmder.NewLogoutCmd()
		cmd.PersistentFlags().String("config-dir", "", "Override path to .relay/ config directory")
		cmd.SetArgs([]string{"--config-dir", tmpDir})

		Expect(cmd.Execute()).To(Succeed())

		token, err := mgr.GetToken()
		Expect(err).NotTo(HaveOccurred())
		Expect(token).To(BeEmpty())
	})

	It("succeeds when no token is stored", func() {
		cmd := authcmder.NewLogoutCmd()
		cmd.PersistentFlags().String("config-dir", "", "Override path to .relay/ config directory")
		cmd.SetArgs([]string{"--config-dir", tmpDir})

		Expect(cmd.Execute()).To(Succeed())
	})
})

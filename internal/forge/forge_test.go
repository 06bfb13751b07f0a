package forge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"townboot/internal/fetch"
	"townboot/internal/system"
)

func TestEnsureCLISkipsWhenPresent(t *testing.T) {
	r := system.NewFake()
	r.Binaries["gh"] = "/usr/bin/gh"

	installed, err := EnsureCLI(context.Background(), r, fetch.New())
	if err != nil {
		t.Fatal(err)
	}
	if installed || len(r.Calls) != 0 {
		t.Errorf("present gh must be a no-op, calls = %v", r.Calls)
	}
}

func TestEnsureCLIInstallsFromVendorRepo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte("fake-keyring"))
	}))
	defer srv.Close()

	r := system.NewFake()
	r.Outputs["dpkg --print-architecture"] = "amd64"

	client := &fetch.Client{HTTP: srv.Client()}
	// Point the keyring fetch at the test server by abusing the
	// client's transport: the URL is fixed, so swap the transport for
	// one that rewrites the host.
	client.HTTP.Transport = rewriteHost(srv)

	installed, err := EnsureCLI(context.Background(), r, client)
	if err != nil {
		t.Fatalf("EnsureCLI: %v", err)
	}
	if !installed {
		t.Error("expected install")
	}
	if !r.Called("sudo install -D -m 644") {
		t.Errorf("keyring install missing, calls = %v", r.Calls)
	}
	if !r.Called("sudo apt-get update") {
		t.Error("index refresh missing")
	}
	if !r.Called("sudo apt-get install -y gh") {
		t.Error("gh install missing")
	}
}

func rewriteHost(srv *httptest.Server) http.RoundTripper {
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		req.URL.Scheme = "http"
		req.URL.Host = srv.Listener.Addr().String()
		return http.DefaultTransport.RoundTrip(req)
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestAuthenticated(t *testing.T) {
	r := system.NewFake()
	if !Authenticated(context.Background(), r) {
		t.Error("clean status must report authenticated")
	}
	r.Errors["gh auth status"] = errors.New("not logged in")
	if Authenticated(context.Background(), r) {
		t.Error("failing status must report unauthenticated")
	}
}

func TestFetchIdentityFallbacks(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		wantName  string
		wantEmail string
	}{
		{
			name:      "full profile",
			body:      `{"login":"dev","name":"Dev Person","email":"dev@example.com"}`,
			wantName:  "Dev Person",
			wantEmail: "dev@example.com",
		},
		{
			name:      "hidden email",
			body:      `{"login":"dev","name":"Dev Person","email":null}`,
			wantName:  "Dev Person",
			wantEmail: "dev@localhost",
		},
		{
			name:      "no display name",
			body:      `{"login":"dev"}`,
			wantName:  "dev",
			wantEmail: "dev@localhost",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := system.NewFake()
			r.Outputs["gh api user"] = tc.body

			id, err := FetchIdentity(context.Background(), r)
			if err != nil {
				t.Fatalf("FetchIdentity: %v", err)
			}
			if id.Name != tc.wantName || id.Email != tc.wantEmail {
				t.Errorf("identity = %+v", id)
			}
		})
	}
}

func TestFetchIdentityRejectsEmptyLogin(t *testing.T) {
	r := system.NewFake()
	r.Outputs["gh api user"] = `{}`
	if _, err := FetchIdentity(context.Background(), r); err == nil {
		t.Error("empty login accepted")
	}
}

func TestConfigureGit(t *testing.T) {
	r := system.NewFake()
	id := Identity{Login: "dev", Name: "Dev Person", Email: "dev@example.com"}
	if err := ConfigureGit(context.Background(), r, id); err != nil {
		t.Fatal(err)
	}
	if !r.Called("git config --global user.name Dev Person") {
		t.Errorf("calls = %v", r.Calls)
	}
	if !r.Called("git config --global user.email dev@example.com") {
		t.Errorf("calls = %v", r.Calls)
	}
}

func TestConfigureGitIntegration(t *testing.T) {
	r := system.NewFake()
	if err := ConfigureGitIntegration(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if !r.Called("gh auth setup-git") || !r.Called("git config --global init.defaultBranch main") {
		t.Errorf("calls = %v", r.Calls)
	}
}

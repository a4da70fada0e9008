// Package seed loads clients and their websites from a YAML file.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

type File struct {
	Clients []Client `yaml:"clients"`
}

type Client struct {
	Email    string    `yaml:"email"`
	Name     string    `yaml:"name"`
	Active   *bool     `yaml:"active"`
	Websites []Website `yaml:"websites"`
}

type Website struct {
	URL    string `yaml:"url"`
	Name   string `yaml:"name"`
	Active *bool  `yaml:"active"`
}

// Result counts rows created by Apply. Existing rows are left as they are.
type Result struct {
	ClientsCreated  int
	ClientsExisting int
	SitesCreated    int
	SitesExisting   int
}

func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

func Parse(r io.Reader) (*File, error) {
	var out File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := out.validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *File) validate() error {
	seen := map[string]bool{}
	for i, c := range f.Clients {
		email := strings.ToLower(strings.TrimSpace(c.Email))
		if email == "" || !strings.Contains(email, "@") {
			return fmt.Errorf("client %d: invalid email %q", i+1, c.Email)
		}
		if seen[email] {
			return fmt.Errorf("client %d: duplicate email %q", i+1, c.Email)
		}
		seen[email] = true
		for j, w := range c.Websites {
			u, err := url.Parse(w.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("client %q website %d: invalid url %q", c.Email, j+1, w.URL)
			}
		}
	}
	return nil
}

type Store interface {
	repo.ClientStore
	repo.EndpointStore
}

// Apply creates every client and website that does not exist yet. Clients
// are matched by email, websites by client and URL. New websites start up.
func Apply(ctx context.Context, store Store, f *File, log *zap.Logger) (Result, error) {
	var res Result
	for _, sc := range f.Clients {
		email := strings.ToLower(strings.TrimSpace(sc.Email))
		client, err := store.FindClientByEmail(ctx, email)
		switch {
		case err == nil:
			res.ClientsExisting++
		case errors.Is(err, repo.ErrNotFound):
			client = &domain.Client{Email: email, Name: sc.Name, Active: orTrue(sc.Active)}
			if err := store.CreateClient(ctx, client); err != nil {
				return res, fmt.Errorf("create client %s: %w", email, err)
			}
			res.ClientsCreated++
			log.Info("seed_client_created", zap.Int64("client_id", int64(client.ID)), zap.String("email", email))
		default:
			return res, fmt.Errorf("find client %s: %w", email, err)
		}

		for _, sw := range sc.Websites {
			_, err := store.FindEndpoint(ctx, client.ID, sw.URL)
			if err == nil {
				res.SitesExisting++
				continue
			}
			if !errors.Is(err, repo.ErrNotFound) {
				return res, fmt.Errorf("find website %s: %w", sw.URL, err)
			}
			ep := &domain.Endpoint{ClientID: client.ID, URL: sw.URL, Name: sw.Name, Active: orTrue(sw.Active), IsUp: true}
			if err := store.CreateEndpoint(ctx, ep); err != nil {
				return res, fmt.Errorf("create website %s: %w", sw.URL, err)
			}
			res.SitesCreated++
			log.Info("seed_website_created", zap.Int64("endpoint_id", int64(ep.ID)), zap.String("url", ep.URL))
		}
	}
	return res, nil
}

func orTrue(b *bool) bool { return b == nil || *b }

package cli

import (
	"net/http"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/config"
	"github.com/example/threatlens/internal/detector"
	"github.com/example/threatlens/internal/detector/aiclass"
	"github.com/example/threatlens/internal/detector/heuristic"
	"github.com/example/threatlens/internal/detector/remote"
	"github.com/example/threatlens/internal/detector/subprocess"
	"github.com/example/threatlens/internal/procexec"
	"github.com/example/threatlens/internal/reputation"
)

// detectorDeps are the shared collaborators handed to detector factories.
type detectorDeps struct {
	Runner     procexec.Runner
	Store      *reputation.Store
	HTTPClient *http.Client
	// Completer overrides the Azure OpenAI client, mostly in tests.
	Completer aiclass.Completer
}

// buildCatalog maps every detector name the configuration may select to a factory.
func buildCatalog(cfg config.RuntimeConfig, deps detectorDeps) detector.Catalog {
	if deps.Runner == nil {
		deps.Runner = procexec.NewRunner()
	}
	remoteOpts := func(key string) remote.Options {
		return remote.Options{APIKey: key, Client: deps.HTTPClient}
	}

	catalog := detector.Catalog{
		config.DetectorReputation: func() (detector.Detector, error) {
			return reputation.NewDetector(deps.Store), nil
		},
		config.DetectorURLhaus: func() (detector.Detector, error) {
			return remote.NewURLhaus(remoteOpts(cfg.Credentials.URLhausKey)), nil
		},
		config.DetectorVirusTotal: func() (detector.Detector, error) {
			return remote.NewVirusTotal(remoteOpts(cfg.Credentials.VirusTotalKey)), nil
		},
		config.DetectorSafeBrowsing: func() (detector.Detector, error) {
			return remote.NewSafeBrowsing(remoteOpts(cfg.Credentials.SafeBrowsingKey)), nil
		},
		config.DetectorAbuseIPDB: func() (detector.Detector, error) {
			return remote.NewAbuseIPDB(remoteOpts(cfg.Credentials.AbuseIPDBKey)), nil
		},
		config.DetectorSiteContent: func() (detector.Detector, error) {
			return remote.NewSiteContent(remoteOpts("")), nil
		},
		config.DetectorURLHeuristics: func() (detector.Detector, error) {
			return heuristic.NewURLHeuristics(), nil
		},
		config.DetectorLSB: func() (detector.Detector, error) {
			return heuristic.NewLSB(), nil
		},
		config.DetectorMetadata: func() (detector.Detector, error) {
			return heuristic.NewMetadata(), nil
		},
		config.DetectorCodec: func() (detector.Detector, error) {
			return subprocess.NewCodec(cfg.FFprobe, deps.Runner), nil
		},
		config.DetectorAIContent: func() (detector.Detector, error) {
			if deps.Completer != nil {
				return aiclass.New(deps.Completer), nil
			}
			creds := cfg.Credentials
			if creds.AzureEndpoint == "" || creds.AzureKey == "" || creds.AzureDeployment == "" {
				// reported as skipped on every scan
				return aiclass.New(nil), nil
			}
			client, err := aiclass.NewAzOpenAIClient(creds.AzureEndpoint, creds.AzureKey, creds.AzureDeployment)
			if err != nil {
				return nil, err
			}
			return aiclass.New(client), nil
		},
	}

	for _, c := range cfg.Commands {
		c := c
		catalog[c.Name] = func() (detector.Detector, error) {
			var kinds detector.Kinds
			for _, k := range c.Kinds {
				kind, err := artifact.ParseKind(k)
				if err != nil {
					return nil, err
				}
				kinds = append(kinds, kind)
			}
			return subprocess.NewCommand(subprocess.Spec{
				Name:     c.Name,
				Binary:   c.Command,
				Args:     c.Args,
				Kinds:    kinds,
				Category: c.Category,
			}, deps.Runner)
		}
	}
	return catalog
}

// buildRegistry instantiates the configured detectors in order with their resolved timeouts.
func buildRegistry(cfg config.RuntimeConfig, deps detectorDeps) (*detector.Registry, error) {
	specs := make([]detector.Spec, 0, len(cfg.Detectors))
	for _, d := range cfg.Detectors {
		specs = append(specs, detector.Spec{Name: d.Name, Timeout: cfg.TimeoutFor(d.Name)})
	}
	return buildCatalog(cfg, deps).Build(specs)
}

func selects(cfg config.RuntimeConfig, name string) bool {
	for _, d := range cfg.Detectors {
		if d.Name == name {
			return true
		}
	}
	return false
}

package interop

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/newrelic/go-agent/v3/integrations/logcontext-v2/nrlogrus"
	"github.com/newrelic/go-agent/v3/newrelic"
	nrClient "github.com/newrelic/newrelic-client-go/newrelic"
	"github.com/newrelic/nr-catalog-sync/pkg/catalog"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Interop struct {
	App      *newrelic.Application
	Config   *viper.Viper
	Logger   *log.Logger
	NrClient *nrClient.NewRelic
	Catalog  *catalog.Client
}

// NewInteroperability reads the configuration (configFile, or config.yaml
// under configs/ or the working directory) and builds the shared clients.
func NewInteroperability(configFile string) (*Interop, error) {
	licenseKey := os.Getenv("NEW_RELIC_LICENSE_KEY")

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName("New Relic Catalog Sync"),
		newrelic.ConfigLicense(licenseKey),
		newrelic.ConfigEnabled(licenseKey != ""),
	)
	if err != nil {
		return nil, err
	}

	logger := log.New()

	logger.SetLevel(log.WarnLevel)
	logger.SetFormatter(nrlogrus.NewFormatter(app, &log.TextFormatter{}))

	v := viper.GetViper()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}

	err = v.ReadInConfig()
	if err != nil {
		return nil, err
	}

	setupLogging(v, logger)

	v.SetEnvPrefix("NR_CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	catalogClient, err := catalog.NewClient(catalog.ClientConfig{
		ApiURL:       v.GetString("catalog.url"),
		ClientID:     v.GetString("catalog.clientId"),
		ClientSecret: v.GetString("catalog.clientSecret"),
		TokenURL:     v.GetString("catalog.tokenUrl"),
		RetryMax:     v.GetInt("catalog.retryMax"),
		Timeout:      v.GetDuration("catalog.timeout"),
	}, logger)
	if err != nil {
		return nil, err
	}

	i := &Interop{
		App:     app,
		Config:  v,
		Logger:  logger,
		Catalog: catalogClient,
	}

	if v.GetBool("events.enabled") {
		i.NrClient, err = newNrClient(v)
		if err != nil {
			return nil, err
		}
	}

	return i, nil
}

func newNrClient(v *viper.Viper) (*nrClient.NewRelic, error) {
	apiKey := v.GetString("apiKey")
	if apiKey == "" {
		apiKey = os.Getenv("NEW_RELIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("missing New Relic API key")
		}
	}

	insertKey := v.GetString("events.insertKey")
	if insertKey == "" {
		insertKey = os.Getenv("NEW_RELIC_INSERT_KEY")
	}

	opts := []nrClient.ConfigOption{
		nrClient.ConfigPersonalAPIKey(apiKey),
		nrClient.ConfigInsightsInsertKey(insertKey),
	}

	if region := v.GetString("region"); region != "" {
		opts = append(opts, nrClient.ConfigRegion(region))
	}

	return nrClient.New(opts...)
}

func (i *Interop) Shutdown() {
	i.App.Shutdown(time.Second * 3)
}

func setupLogging(v *viper.Viper, logger *log.Logger) {
	logLevel := v.GetString("log.level")
	if logLevel != "" {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			log.Infof("failed to parse log level, default will be used: %s", err)
		} else {
			logger.SetLevel(level)
		}
	}

	if v.IsSet("log.fileName") {
		file, err := os.OpenFile(
			v.GetString("log.fileName"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND,
			0666,
		)
		if err != nil {
			log.Infof("failed to log to file, using default stderr: %s", err)
		} else {
			logger.Out = file
		}
	}
}

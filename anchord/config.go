// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/decred/dcrd/dcrutil/v2"
	flags "github.com/jessevdk/go-flags"

	v1 "github.com/foodprint/anchor/api/v1"
)

const (
	defaultConfigFilename = "anchord.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "anchord.log"
	defaultAnchorWait     = 4
)

var (
	defaultHomeDir    = dcrutil.AppDataDir("anchord", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultHTTPSKey   = filepath.Join(defaultHomeDir, "https.key")
	defaultHTTPSCert  = filepath.Join(defaultHomeDir, "https.cert")
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines the configuration options for anchord.
//
// See loadConfig for details on the configuration load process.
type config struct {
	HomeDir          string   `short:"A" long:"appdata" description:"Path to application home directory"`
	ShowVersion      bool     `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile       string   `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir          string   `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir           string   `long:"logdir" description:"Directory to log output"`
	TestNet          bool     `long:"testnet" description:"Use the ledger test network"`
	Listeners        []string `long:"listen" description:"Add an interface/port to listen for connections (default all interfaces port: 49374, testnet: 59374)"`
	DebugLevel       string   `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	HTTPSCert        string   `long:"httpscert" description:"File containing the https certificate file"`
	HTTPSKey         string   `long:"httpskey" description:"File containing the https certificate key"`
	AlgodHost        string   `long:"algodhost" description:"Ledger node URL"`
	AlgodToken       string   `long:"algodtoken" description:"Ledger node API token, may be empty for public nodes"`
	Account1Mnemonic string   `long:"account1mnemonic" description:"25 word recovery phrase of the anchoring account (env ANCHORD_ACCOUNT1_MNEMONIC)"`
	Account1Address  string   `long:"account1address" description:"Expected address of the anchoring account"`
	Account2Mnemonic string   `long:"account2mnemonic" description:"25 word recovery phrase of the receiving account (env ANCHORD_ACCOUNT2_MNEMONIC)"`
	Account2Address  string   `long:"account2address" description:"Expected address of the receiving account"`
	AnchorWait       uint64   `long:"anchorwait" description:"Rounds to wait for transaction confirmation"`
	NoteLimit        int      `long:"notelimit" description:"Serialized payload byte limit"`
	ExplorerURL      string   `long:"explorerurl" description:"Explorer transaction URL template, %v is replaced with the txid"`
	PostgresHost     string   `long:"postgreshost" description:"Postgres ip:port"`
	PostgresUser     string   `long:"postgresuser" description:"Postgres user"`
	PostgresDB       string   `long:"postgresdb" description:"Postgres database name"`
	PostgresRootCert string   `long:"postgresrootcert" description:"File containing the CA certificate for postgres"`
	PostgresCert     string   `long:"postgrescert" description:"File containing the anchord client certificate for postgres"`
	PostgresKey      string   `long:"postgreskey" description:"File containing the anchord client certificate key for postgres"`
}

// serviceOptions defines the configuration options for the daemon as a
// service on Windows.
type serviceOptions struct {
	ServiceCommand string `short:"s" long:"service" description:"Service command {install, remove, start, stop}"`
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace":
		fallthrough
	case "debug":
		fallthrough
	case "info":
		fallthrough
	case "warn":
		fallthrough
	case "error":
		fallthrough
	case "critical":
		return true
	}
	return false
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while
	// detecting issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsystems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// normalizeAddresses returns a new slice with all the passed peer addresses
// normalized with the given default port, and all duplicates removed.
func normalizeAddresses(addrs []string, defaultPort string) []string {
	result := make([]string, 0, len(addrs))
	seen := map[string]struct{}{}
	for _, addr := range addrs {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, defaultPort)
		}
		if _, ok := seen[addr]; !ok {
			result = append(result, addr)
			seen[addr] = struct{}{}
		}
	}
	return result
}

// newConfigParser returns a new command line flags parser.
func newConfigParser(cfg *config, so *serviceOptions, options flags.Options) *flags.Parser {
	parser := flags.NewParser(cfg, options)
	if runtime.GOOS == "windows" {
		parser.AddGroup("Service Options", "Service Options", so)
	}
	return parser
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//	1) Start with a default config with sane settings
//	2) Pre-parse the command line to check for an alternative config file
//	3) Load configuration file overwriting defaults with any specified
//	   options
//	4) Parse CLI options and overwrite/add any specified options
//
// The above results in anchord functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		HomeDir:    defaultHomeDir,
		ConfigFile: defaultConfigFile,
		DebugLevel: defaultLogLevel,
		DataDir:    defaultDataDir,
		LogDir:     defaultLogDir,
		HTTPSKey:   defaultHTTPSKey,
		HTTPSCert:  defaultHTTPSCert,
		AnchorWait: defaultAnchorWait,
		NoteLimit:  v1.NoteSizeLimit,
	}

	// Service options which are only added on Windows.
	serviceOpts := serviceOptions{}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := newConfigParser(&preCfg, &serviceOpts, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s)\n", appName,
			version(), runtime.Version())
		os.Exit(0)
	}

	// Update the home directory if specified.  Since the home directory
	// is updated, other variables need to be updated to reflect the new
	// changes.
	if preCfg.HomeDir != "" {
		cfg.HomeDir = cleanAndExpandPath(preCfg.HomeDir)

		if preCfg.ConfigFile == defaultConfigFile {
			cfg.ConfigFile = filepath.Join(cfg.HomeDir,
				defaultConfigFilename)
		} else {
			cfg.ConfigFile = preCfg.ConfigFile
		}
		if preCfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(cfg.HomeDir,
				defaultDataDirname)
		} else {
			cfg.DataDir = preCfg.DataDir
		}
		if preCfg.HTTPSKey == defaultHTTPSKey {
			cfg.HTTPSKey = filepath.Join(cfg.HomeDir, "https.key")
		} else {
			cfg.HTTPSKey = preCfg.HTTPSKey
		}
		if preCfg.HTTPSCert == defaultHTTPSCert {
			cfg.HTTPSCert = filepath.Join(cfg.HomeDir, "https.cert")
		} else {
			cfg.HTTPSCert = preCfg.HTTPSCert
		}
		if preCfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(cfg.HomeDir,
				defaultLogDirname)
		} else {
			cfg.LogDir = preCfg.LogDir
		}
	}

	// Load additional config from file.
	var configFileError error
	parser := newConfigParser(&cfg, &serviceOpts, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(cfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %v\n",
				err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, err
	}

	// Network dependent defaults.
	port := v1.DefaultMainnetPort
	if cfg.TestNet {
		port = v1.DefaultTestnetPort
		if cfg.AlgodHost == "" {
			cfg.AlgodHost = v1.DefaultTestnetAlgodHost
		}
		if cfg.ExplorerURL == "" {
			cfg.ExplorerURL = v1.DefaultTestnetExplorer
		}
	} else {
		if cfg.AlgodHost == "" {
			cfg.AlgodHost = v1.DefaultMainnetAlgodHost
		}
		if cfg.ExplorerURL == "" {
			cfg.ExplorerURL = v1.DefaultMainnetExplorer
		}
	}

	// Append the network type to the data and log directories so it is
	// "namespaced" per network.
	netName := "mainnet"
	if cfg.TestNet {
		netName = "testnet"
	}
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DataDir = filepath.Join(cfg.DataDir, netName)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, netName)

	cfg.HTTPSKey = cleanAndExpandPath(cfg.HTTPSKey)
	cfg.HTTPSCert = cleanAndExpandPath(cfg.HTTPSCert)

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err = fmt.Errorf("%s: %v", "loadConfig", err.Error())
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Add the default listener if none were specified.  The default
	// listener is all addresses on the listen port for the network we are
	// to connect to.
	if len(cfg.Listeners) == 0 {
		cfg.Listeners = []string{
			net.JoinHostPort("", port),
		}
	}

	// Add default port to all listener addresses if needed and remove
	// duplicate addresses.
	cfg.Listeners = normalizeAddresses(cfg.Listeners, port)

	// Secrets may come from the environment so they can stay out of
	// config files.
	if cfg.Account1Mnemonic == "" {
		cfg.Account1Mnemonic = os.Getenv("ANCHORD_ACCOUNT1_MNEMONIC")
	}
	if cfg.Account2Mnemonic == "" {
		cfg.Account2Mnemonic = os.Getenv("ANCHORD_ACCOUNT2_MNEMONIC")
	}
	if cfg.AlgodToken == "" {
		cfg.AlgodToken = os.Getenv("ANCHORD_ALGOD_TOKEN")
	}

	// Account settings are mandatory; the daemon cannot anchor anything
	// without both accounts.
	if cfg.Account1Mnemonic == "" || cfg.Account2Mnemonic == "" {
		err := fmt.Errorf("both account recovery phrases must be set")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	if cfg.Account1Address == "" || cfg.Account2Address == "" {
		err := fmt.Errorf("both account addresses must be set")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	for _, addr := range []string{cfg.Account1Address, cfg.Account2Address} {
		if _, err := types.DecodeAddress(addr); err != nil {
			err := fmt.Errorf("invalid account address %v: %v",
				addr, err)
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	if cfg.AnchorWait == 0 {
		err := fmt.Errorf("anchorwait must be positive")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	if cfg.NoteLimit <= 0 || cfg.NoteLimit > v1.NoteSizeLimit {
		err := fmt.Errorf("notelimit must be between 1 and %v",
			v1.NoteSizeLimit)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	if cfg.PostgresHost == "" || cfg.PostgresUser == "" ||
		cfg.PostgresDB == "" {
		err := fmt.Errorf("postgreshost, postgresuser and postgresdb " +
			"must be set")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	cfg.PostgresRootCert = cleanAndExpandPath(cfg.PostgresRootCert)
	cfg.PostgresCert = cleanAndExpandPath(cfg.PostgresCert)
	cfg.PostgresKey = cleanAndExpandPath(cfg.PostgresKey)

	// Warn about missing config file only after all other configuration
	// is done.  This prevents the warning on help messages and invalid
	// options.  Note this should go directly before the return.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}

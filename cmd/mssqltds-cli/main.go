package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ha1tch/mssqltds/tds"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mssqltds-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		host           = fs.String("host", "localhost", "Server host")
		port           = fs.Int("port", 1433, "Server port")
		database       = fs.String("database", "", "Initial database")
		user           = fs.String("user", "", "SQL login username")
		password       = fs.String("password", "", "SQL login password")
		appName        = fs.String("app-name", "mssqltds-cli", "Client application name reported at login")
		encrypt        = fs.String("encrypt", "on", "Encryption mode: off, on, require, strict")
		trustCert      = fs.Bool("trust-server-certificate", false, "Skip TLS certificate validation")
		connectTimeout = fs.Duration("connect-timeout", 15*time.Second, "Connect timeout")
		query          = fs.String("query", "", "SQL batch text to run; reads stdin if empty")
		logLevel       = fs.String("log-level", "warn", "Log level: debug, info, warn, error, off")
		showVersion    = fs.Bool("version", false, "Show version and exit")
	)
	fs.Usage = func() { printUsage(stderr) }

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintln(stdout, tds.Version)
		return 0
	}

	sql := *query
	if sql == "" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(stderr, "reading query from stdin: %v\n", err)
			return 1
		}
		sql = strings.TrimSpace(string(b))
	}
	if sql == "" {
		fmt.Fprintln(stderr, "no query given (use -query or pipe SQL on stdin)")
		return 2
	}

	logger := tds.NewLogger(tds.LogConfig{
		DefaultLevel: parseLogLevel(*logLevel),
		Output:       stderr,
		Format:       tds.LogFormatText,
	})
	defer logger.Close()

	cfg := tds.Config{
		Host:           *host,
		Port:           uint16(*port),
		Database:       *database,
		AppName:        *appName,
		Encryption:     parseEncryption(*encrypt),
		TLS:            tds.TLSConfig{TrustServerCertificate: *trustCert},
		ConnectTimeout: *connectTimeout,
		Auth: tds.AuthData{
			Method:   tds.AuthSQLPassword,
			Username: *user,
			Password: *password,
		},
		Log: logger,
	}

	sess, err := tds.Connect(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "connect: %v\n", err)
		return 1
	}
	defer sess.Close()

	rs, err := sess.SimpleQuery(sql)
	if err != nil {
		fmt.Fprintf(stderr, "query: %v\n", err)
		return 1
	}

	printResults(stdout, rs)
	if rs.Err() != nil {
		fmt.Fprintf(stderr, "%v\n", rs.Err())
		return 1
	}
	return 0
}

func printResults(w io.Writer, rs *tds.RowStream) {
	printedHeader := false
	for rs.Next() {
		if !printedHeader {
			names := make([]string, len(rs.Columns()))
			for i, c := range rs.Columns() {
				names[i] = c.Name
			}
			fmt.Fprintln(w, strings.Join(names, "\t"))
			printedHeader = true
		}
		cells := make([]string, len(rs.Row()))
		for i, v := range rs.Row() {
			cells[i] = formatScalar(v)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	for _, info := range rs.Infos() {
		fmt.Fprintf(w, "-- %s\n", info.Message)
	}
	if count, ok := rs.RowCount(); ok {
		fmt.Fprintf(w, "(%d rows affected)\n", count)
	}
}

func formatScalar(v tds.Scalar) string {
	switch v.Kind {
	case tds.ScalarNull:
		return "NULL"
	case tds.ScalarBool:
		return fmt.Sprintf("%t", v.Bool)
	case tds.ScalarTinyInt:
		return fmt.Sprintf("%d", v.TinyInt)
	case tds.ScalarSmallInt:
		return fmt.Sprintf("%d", v.SmallInt)
	case tds.ScalarInt:
		return fmt.Sprintf("%d", v.Int)
	case tds.ScalarBigInt:
		return fmt.Sprintf("%d", v.BigInt)
	case tds.ScalarFloat:
		return fmt.Sprintf("%g", v.Float)
	case tds.ScalarDouble:
		return fmt.Sprintf("%g", v.Double)
	case tds.ScalarDecimal:
		return v.Decimal.String()
	case tds.ScalarUuid:
		return v.Uuid.String()
	case tds.ScalarBinary:
		return fmt.Sprintf("0x%x", v.Binary)
	default:
		return v.String
	}
}

func parseEncryption(s string) tds.EncryptionMode {
	switch strings.ToLower(s) {
	case "off":
		return tds.EncryptOff
	case "require":
		return tds.EncryptRequired
	case "strict":
		return tds.EncryptStrict
	default:
		return tds.EncryptOn
	}
}

func parseLogLevel(s string) tds.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return tds.LogDebug
	case "info":
		return tds.LogInfo
	case "error":
		return tds.LogError
	case "off":
		return tds.LogOff
	default:
		return tds.LogWarn
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `mssqltds-cli - run one SQL batch against a SQL Server instance

Usage:
  mssqltds-cli -host <host> -user <user> -password <password> -query "SELECT 1"

Options:
  -host <host>                    Server host (default: localhost)
  -port <port>                    Server port (default: 1433)
  -database <name>                Initial database
  -user <name>                    SQL login username
  -password <pw>                  SQL login password
  -app-name <name>                Application name reported at login
  -encrypt <mode>                 off, on, require, strict (default: on)
  -trust-server-certificate        Skip TLS certificate validation
  -connect-timeout <dur>           Connect timeout (default: 15s)
  -query <sql>                    SQL batch to run; reads stdin if omitted
  -log-level <level>              debug, info, warn, error, off (default: warn)
  -version                        Show version and exit
`)
}

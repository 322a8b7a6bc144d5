package mssql

import (
	"fmt"
	"net/url"
	"strconv"
)

// Auth methods accepted in the adapter config.
const (
	AuthSQL              = "sql"
	AuthServicePrincipal = "service_principal"
)

// Config contains SQL Server-specific connection options.
type Config struct {
	Host     string
	Port     int
	Database string

	// AuthMethod is AuthSQL or AuthServicePrincipal.
	AuthMethod string

	// SQL authentication
	Username string
	Password string

	// Azure AD service principal
	TenantID     string
	ClientID     string
	ClientSecret string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int // seconds
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromMap creates a Config from a generic config map. The auth method is
// taken from "auth_method" when present, otherwise a client_id selects the
// service principal and a user selects SQL authentication.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:              DefaultPort(),
		Encrypt:           true,
		ConnectionTimeout: DefaultConnectionTimeout(),
	}

	if host, ok := config["host"].(string); ok && host != "" {
		cfg.Host = host
	} else {
		return nil, fmt.Errorf("host is required")
	}

	if port, ok := config["port"].(float64); ok { // JSON numbers are float64
		cfg.Port = int(port)
	} else if port, ok := config["port"].(int); ok {
		cfg.Port = port
	}

	if database, ok := config["database"].(string); ok && database != "" {
		cfg.Database = database
	} else {
		return nil, fmt.Errorf("database is required")
	}

	if encrypt, ok := config["encrypt"].(bool); ok {
		cfg.Encrypt = encrypt
	} else if encryptStr, ok := config["encrypt"].(string); ok {
		cfg.Encrypt = encryptStr == "true" || encryptStr == "strict"
	}

	if trust, ok := config["trust_server_certificate"].(bool); ok {
		cfg.TrustServerCertificate = trust
	}

	if timeout, ok := config["connection_timeout"].(float64); ok {
		cfg.ConnectionTimeout = int(timeout)
	} else if timeout, ok := config["connection_timeout"].(int); ok && timeout > 0 {
		cfg.ConnectionTimeout = timeout
	}

	if authMethod, ok := config["auth_method"].(string); ok && authMethod != "" {
		cfg.AuthMethod = authMethod
	} else if clientID, ok := config["client_id"].(string); ok && clientID != "" {
		cfg.AuthMethod = AuthServicePrincipal
	} else if user, ok := config["user"].(string); ok && user != "" {
		cfg.AuthMethod = AuthSQL
	} else if username, ok := config["username"].(string); ok && username != "" {
		cfg.AuthMethod = AuthSQL
	} else {
		return nil, fmt.Errorf("could not auto-detect auth method; no credentials provided")
	}

	switch cfg.AuthMethod {
	case AuthSQL:
		if user, ok := config["user"].(string); ok && user != "" {
			cfg.Username = user
		} else if username, ok := config["username"].(string); ok {
			cfg.Username = username
		}
		cfg.Password, _ = config["password"].(string)

	case AuthServicePrincipal:
		cfg.TenantID, _ = config["tenant_id"].(string)
		cfg.ClientID, _ = config["client_id"].(string)
		cfg.ClientSecret, _ = config["client_secret"].(string)

	default:
		return nil, fmt.Errorf("invalid auth method: %s (must be sql or service_principal)", cfg.AuthMethod)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the config has every field its auth method needs.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.AuthMethod {
	case AuthSQL:
		if c.Username == "" {
			return fmt.Errorf("username is required for SQL authentication")
		}
	case AuthServicePrincipal:
		if c.TenantID == "" {
			return fmt.Errorf("tenant_id is required for service principal")
		}
		if c.ClientID == "" {
			return fmt.Errorf("client_id is required for service principal")
		}
		if c.ClientSecret == "" {
			return fmt.Errorf("client_secret is required for service principal")
		}
	default:
		return fmt.Errorf("invalid auth method: %s", c.AuthMethod)
	}

	return nil
}

// driverName returns the database/sql driver for the auth method. The
// azuresql driver understands the fedauth parameters.
func (c *Config) driverName() string {
	if c.AuthMethod == AuthServicePrincipal {
		return "azuresql"
	}
	return "sqlserver"
}

// connectionString builds the sqlserver:// URL for the auth method.
func (c *Config) connectionString() string {
	query := url.Values{}
	query.Add("database", c.Database)
	query.Add("app name", "ekaya-nlq")

	if c.Encrypt {
		query.Add("encrypt", "true")
	} else {
		query.Add("encrypt", "false")
	}
	if c.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if c.ConnectionTimeout > 0 {
		query.Add("connection timeout", strconv.Itoa(c.ConnectionTimeout))
	}

	u := &url.URL{
		Scheme: "sqlserver",
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
	}

	switch c.AuthMethod {
	case AuthServicePrincipal:
		query.Add("fedauth", "ActiveDirectoryServicePrincipal")
		query.Add("user id", c.ClientID+"@"+c.TenantID)
		query.Add("password", c.ClientSecret)
	default:
		u.User = url.UserPassword(c.Username, c.Password)
	}

	u.RawQuery = query.Encode()
	return u.String()
}

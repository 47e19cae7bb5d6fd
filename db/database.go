package db

import (
	"net"

	"harmony/config"

	driver "github.com/go-sql-driver/mysql"
)

// MySQLDSN builds the DSN for the optional MySQL catalog backend.
func MySQLDSN(cfg *config.Config) string {
	mc := driver.NewConfig()
	mc.User = cfg.DBUser
	mc.Passwd = cfg.DBPassword
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.DBHost, cfg.DBPort)
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

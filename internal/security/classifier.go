// Package security implements the permission gate: risk classifiers, the
// policy matrix, rate limiting, the approval gate, and the audit trail.
package security

import (
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// RiskLevel orders from harmless to hard-rejected.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskWarn
	RiskDangerous
	RiskBlocked
)

func (r RiskLevel) String() string {
	switch r {
	case RiskSafe:
		return "safe"
	case RiskWarn:
		return "warn"
	case RiskDangerous:
		return "dangerous"
	case RiskBlocked:
		return "blocked"
	}
	return "unknown"
}

// Catastrophic commands are rejected regardless of security level.
var blockedCommands = map[string]bool{
	"mkfs":   true,
	"format": true,
	"dd":     true,
}

var dangerousCommands = map[string]bool{
	"rm": true, "rmdir": true, "del": true, "rd": true,
	"curl": true, "wget": true, "invoke-webrequest": true,
	"pip": true, "pip3": true, "npm": true, "yarn": true,
	"chmod": true, "chown": true, "chattr": true,
	"kill": true, "killall": true, "pkill": true, "taskkill": true,
	"powershell": true, "pwsh": true, "cmd": true,
	"sudo": true, "su": true, "runas": true,
	"mv": true, "move": true, "ren": true, "rename": true,
	"shutdown": true, "reboot": true, "halt": true, "init": true,
	"net": true, "netsh": true, "iptables": true,
	"reg": true, "regedit": true,
	"docker": true, "kubectl": true,
}

var safeCommands = map[string]bool{
	"ls": true, "dir": true, "cat": true, "type": true, "head": true, "tail": true,
	"grep": true, "find": true, "findstr": true, "wc": true, "sort": true, "uniq": true,
	"echo": true, "pwd": true, "cd": true, "whoami": true, "date": true, "time": true,
	"uname": true, "hostname": true, "env": true, "printenv": true, "set": true,
	"which": true, "where": true, "df": true, "du": true, "free": true, "ps": true,
	"top": true, "uptime": true, "id": true, "groups": true, "history": true,
	"man": true, "help": true, "git": true, "python": true, "python3": true,
	"node": true, "go": true, "cargo": true, "tar": true, "zip": true, "unzip": true,
	"gzip": true, "gunzip": true, "sed": true, "awk": true, "cut": true, "tr": true,
	"diff": true, "cmp": true, "touch": true, "mkdir": true, "ln": true, "stat": true,
	"file": true, "basename": true, "dirname": true, "realpath": true, "readlink": true,
	"sleep": true, "true": true, "false": true, "test": true, "expr": true, "seq": true,
	"xargs": true, "tee": true, "less": true, "more": true, "jq": true,
}

// Git subcommands that mutate shared state warrant a warning; forced variants
// are dangerous.
var warnGitSubcommands = map[string]bool{
	"push": true, "reset": true, "clean": true, "rebase": true,
	"merge": true, "branch": true, "checkout": true,
}

// ClassifyShellCommand lexes the command, splits it into sub-commands on
// shell connectors, classifies each, and aggregates to the maximum risk.
func ClassifyShellCommand(command string) RiskLevel {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return RiskSafe
	}
	if isForkBomb(trimmed) {
		return RiskBlocked
	}

	tokens, ok := lexShell(trimmed)
	if !ok {
		// Unlexable input gets the conservative treatment.
		return RiskDangerous
	}

	risk := RiskSafe
	for _, sub := range splitSubCommands(tokens) {
		if sub.risk() > risk {
			risk = sub.risk()
		}
	}
	return risk
}

type subCommand []string

func (s subCommand) risk() RiskLevel {
	if len(s) == 0 {
		return RiskSafe
	}
	name := strings.ToLower(filepath.Base(s[0]))

	if blockedCommands[name] || strings.HasPrefix(name, "mkfs.") {
		return RiskBlocked
	}

	switch name {
	case "rm", "del", "rmdir", "rd":
		if hasRecursiveOrForceFlag(s[1:]) {
			return RiskDangerous
		}
		return RiskWarn
	case "git":
		return gitRisk(s[1:])
	}

	if dangerousCommands[name] {
		return RiskDangerous
	}
	if safeCommands[name] {
		return RiskSafe
	}
	return RiskWarn
}

func gitRisk(args []string) RiskLevel {
	sub := ""
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			sub = strings.ToLower(a)
			break
		}
	}
	if !warnGitSubcommands[sub] {
		return RiskSafe
	}
	for _, a := range args {
		if a == "--force" || a == "-f" || a == "-D" {
			return RiskDangerous
		}
	}
	return RiskWarn
}

func hasRecursiveOrForceFlag(args []string) bool {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") || strings.HasPrefix(a, "--") {
			if a == "--force" || a == "--recursive" {
				return true
			}
			continue
		}
		flags := strings.ToLower(a[1:])
		if strings.ContainsAny(flags, "rf") {
			return true
		}
	}
	return false
}

func isForkBomb(command string) bool {
	collapsed := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' {
			return -1
		}
		return r
	}, command)
	return strings.Contains(collapsed, ":(){")
}

// lexShell tokenises with double/single-quote awareness. Connector tokens
// (| || && ;) come through as standalone tokens. Returns ok=false for
// unbalanced quotes.
func lexShell(command string) ([]string, bool) {
	var tokens []string
	var current strings.Builder
	inSingle := false
	inDouble := false

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inSingle:
			if r == '\'' {
				inSingle = false
			} else {
				current.WriteRune(r)
			}
		case inDouble:
			if r == '"' {
				inDouble = false
			} else {
				current.WriteRune(r)
			}
		case r == '\'':
			inSingle = true
		case r == '"':
			inDouble = true
		case r == ' ' || r == '\t':
			flush()
		case r == ';':
			flush()
			tokens = append(tokens, ";")
		case r == '|':
			flush()
			if i+1 < len(runes) && runes[i+1] == '|' {
				tokens = append(tokens, "||")
				i++
			} else {
				tokens = append(tokens, "|")
			}
		case r == '&':
			if i+1 < len(runes) && runes[i+1] == '&' {
				flush()
				tokens = append(tokens, "&&")
				i++
			} else {
				current.WriteRune(r)
			}
		default:
			current.WriteRune(r)
		}
	}
	if inSingle || inDouble {
		return nil, false
	}
	flush()
	return tokens, true
}

func splitSubCommands(tokens []string) []subCommand {
	var subs []subCommand
	var current subCommand
	for _, tok := range tokens {
		switch tok {
		case "|", "||", "&&", ";":
			if len(current) > 0 {
				subs = append(subs, current)
				current = nil
			}
		default:
			current = append(current, tok)
		}
	}
	if len(current) > 0 {
		subs = append(subs, current)
	}
	return subs
}

// Python modules whose import is classified dangerous.
var dangerousPythonModules = map[string]bool{
	"os": true, "subprocess": true, "shutil": true, "socket": true,
	"ctypes": true, "signal": true, "multiprocessing": true, "threading": true,
	"http.server": true, "xmlrpc": true, "ftplib": true, "smtplib": true,
	"telnetlib": true, "pickle": true, "shelve": true, "marshal": true,
}

// Call spellings classified dangerous wherever they appear.
var dangerousPythonCalls = []string{
	"os.system", "os.exec", "os.spawn", "os.remove", "os.unlink", "os.rmdir",
	"subprocess.", "shutil.rmtree", "shutil.move",
	"eval(", "exec(", "compile(", "__import__",
}

// ClassifyPythonCode scans code for dangerous imports, calls, and opens of
// sensitive paths. This is a token-level scan over the same decision tables
// the gate enforces at runtime; input that defeats the scan still hits the
// interpreter-side restrictions.
func ClassifyPythonCode(code string) RiskLevel {
	risk := RiskSafe
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if module, ok := importedModule(trimmed); ok {
			if dangerousPythonModules[module] || dangerousPythonModules[rootModule(module)] {
				return RiskDangerous
			}
		}
		for _, call := range dangerousPythonCalls {
			if strings.Contains(trimmed, call) {
				return RiskDangerous
			}
		}
		if path, ok := openedLiteralPath(trimmed); ok && IsSensitivePath(path) {
			return RiskDangerous
		}
	}
	return risk
}

func rootModule(module string) string {
	if idx := strings.IndexByte(module, '.'); idx >= 0 {
		return module[:idx]
	}
	return module
}

func importedModule(line string) (string, bool) {
	if strings.HasPrefix(line, "import ") {
		rest := strings.TrimPrefix(line, "import ")
		// "import a, b as c" — flag if any listed module is dangerous.
		for _, part := range strings.Split(rest, ",") {
			fields := strings.Fields(strings.TrimSpace(part))
			if len(fields) == 0 {
				continue
			}
			module := strings.TrimSuffix(fields[0], ";")
			if dangerousPythonModules[module] || dangerousPythonModules[rootModule(module)] {
				return module, true
			}
		}
		fields := strings.Fields(rest)
		if len(fields) > 0 {
			return strings.TrimSuffix(fields[0], ";"), true
		}
	}
	if strings.HasPrefix(line, "from ") {
		fields := strings.Fields(strings.TrimPrefix(line, "from "))
		if len(fields) > 0 {
			return fields[0], true
		}
	}
	return "", false
}

func openedLiteralPath(line string) (string, bool) {
	idx := strings.Index(line, "open(")
	if idx < 0 {
		return "", false
	}
	rest := line[idx+len("open("):]
	if rest == "" {
		return "", false
	}
	quote := rest[0]
	if quote != '\'' && quote != '"' {
		return "", false
	}
	end := strings.IndexByte(rest[1:], quote)
	if end < 0 {
		return "", false
	}
	return rest[1 : 1+end], true
}

// Private ranges checked during SSRF classification.
var privateNetworks = func() []*net.IPNet {
	cidrs := []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		if _, n, err := net.ParseCIDR(c); err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}()

// URLClassifier classifies fetch targets. serverPort guards against
// self-referencing loopback requests; lookup is swappable for tests.
type URLClassifier struct {
	ServerPort int
	LookupIP   func(host string) ([]net.IP, error)
}

func (c *URLClassifier) lookup(host string) ([]net.IP, error) {
	if c.LookupIP != nil {
		return c.LookupIP(host)
	}
	return net.LookupIP(host)
}

// Classify validates scheme, rejects self-referencing loopback on the server
// port, and resolves the host against the private-range set.
func (c *URLClassifier) Classify(rawURL string) RiskLevel {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return RiskBlocked
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return RiskBlocked
	}
	host := parsed.Hostname()
	if host == "" {
		return RiskBlocked
	}

	if c.ServerPort > 0 && isLoopbackName(host) {
		port := parsed.Port()
		if port == "" {
			if parsed.Scheme == "https" {
				port = "443"
			} else {
				port = "80"
			}
		}
		if portEquals(port, c.ServerPort) {
			return RiskBlocked
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return RiskDangerous
		}
		return RiskSafe
	}

	ips, err := c.lookup(host)
	if err != nil || len(ips) == 0 {
		return RiskWarn
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return RiskDangerous
		}
	}
	return RiskSafe
}

func isLoopbackName(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func portEquals(port string, serverPort int) bool {
	return port == strconv.Itoa(serverPort)
}

func isPrivateIP(ip net.IP) bool {
	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

var sensitiveSubstrings = []string{"credentials", "secret", "token"}

var sensitiveExtensions = map[string]bool{
	".key": true, ".pem": true, ".p12": true, ".pfx": true,
}

var sensitiveNames = map[string]bool{
	"mcp_servers.json": true,
	"id_rsa":           true,
	"id_ed25519":       true,
}

// IsSensitivePath reports whether a file path looks like credential
// material: .env files, key-like extensions, SSH key names, or
// secret-bearing substrings.
func IsSensitivePath(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	if name == ".env" || strings.HasPrefix(name, ".env.") {
		return true
	}
	if sensitiveNames[name] {
		return true
	}
	if sensitiveExtensions[filepath.Ext(name)] {
		return true
	}
	for _, sub := range sensitiveSubstrings {
		if strings.Contains(name, sub) {
			return true
		}
	}
	return false
}

package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cuemby/corral/pkg/types"
)

// MaxInstructionBytes is the size limit enforced after sanitization
const MaxInstructionBytes = 10 * 1024

// containerIDPattern accepts runtime hex identifiers (12 to 64 chars) and
// canonical lowercase UUIDs.
var containerIDPattern = regexp.MustCompile(
	`^([a-f0-9]{12,64}|[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`,
)

// BlockedPattern is one family of instructions that is never enqueued
type BlockedPattern struct {
	Family string
	re     *regexp.Regexp
}

var blockedPatterns = []BlockedPattern{
	{"fork_bomb", regexp.MustCompile(`:\(\)\s*\{[^}]*\|[^}]*\}\s*;?\s*:`)},
	{"recursive_delete", regexp.MustCompile(`(?i)\brm\s+(?:-{1,2}[\w=-]+\s+)*(?:/|/\*|~|\$HOME)\s*(?:$|[;&|])`)},
	{"filesystem_format", regexp.MustCompile(`(?i)\bmkfs(\.\w+)?\b`)},
	{"raw_device_write", regexp.MustCompile(`(?i)\bdd\s+[^;|&]*\bof=/dev/`)},
	{"world_writable_root", regexp.MustCompile(`(?i)\bchmod\s+(?:-[\w]+\s+)*(?:0?777|a\+rwx)\s+/\s*(?:$|[;&|])`)},
	{"listener", regexp.MustCompile(`(?i)\b(?:nc|ncat|netcat)\b[^;|&]*\s-\w*l`)},
	{"cryptominer", regexp.MustCompile(`(?i)\b(?:xmrig|minerd|cpuminer|cgminer|bfgminer|ethminer|nbminer|t-rex)\b`)},
	{"reverse_shell", regexp.MustCompile(`(?i)(?:\b(?:ba)?sh\s+-i\s*>&\s*/dev/(?:tcp|udp)/|/dev/(?:tcp|udp)/\d)`)},
	{"remote_pipe_execution", regexp.MustCompile(`(?i)\b(?:curl|wget)\b[^;|&]*\|\s*(?:ba|z|da|k)?sh\b`)},
	{"credential_exfiltration", regexp.MustCompile(`(?i)(?:git\s+credential(?:-store|-cache)?\b[^;|&]*\b(?:fill|get)\b|\.git-credentials)`)},
	{"ssh_key_access", regexp.MustCompile(`(?i)\.ssh/id_(?:rsa|dsa|ecdsa|ed25519)`)},
	{"kernel_module", regexp.MustCompile(`(?i)\b(?:insmod|rmmod|modprobe)\b`)},
	{"cron_injection", regexp.MustCompile(`(?i)(?:\bcrontab\s+-|>>?\s*/etc/cron|/var/spool/cron)`)},
	{"privileged_escape", regexp.MustCompile(`(?i)(?:--privileged\b|--cap-add[= ]\s*(?:SYS_ADMIN|ALL)\b|/var/run/docker\.sock)`)},
	{"network_scan", regexp.MustCompile(`(?i)\b(?:nmap|masscan|zmap)\b`)},
}

// ValidateContainerID rejects identifiers that are not runtime hex IDs or
// UUIDs. Returns a validation fault on mismatch.
func ValidateContainerID(id string) error {
	if !containerIDPattern.MatchString(id) {
		return types.Faultf(types.FaultValidation, "security.validate",
			"invalid container id %q", id)
	}
	return nil
}

// SanitizeInstruction strips control characters (keeping LF and TAB) and
// enforces the size limit. Returns the sanitized text.
func SanitizeInstruction(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, raw)

	if strings.TrimSpace(cleaned) == "" {
		return "", types.Faultf(types.FaultValidation, "security.validate",
			"instruction is empty")
	}
	if len(cleaned) > MaxInstructionBytes {
		return "", types.Faultf(types.FaultValidation, "security.validate",
			"instruction exceeds %d bytes (%d)", MaxInstructionBytes, len(cleaned))
	}
	return cleaned, nil
}

// MatchDangerous returns the name of the first blocked family the
// instruction matches, or an empty string.
func MatchDangerous(instruction string) string {
	for _, p := range blockedPatterns {
		if p.re.MatchString(instruction) {
			return p.Family
		}
	}
	return ""
}

// ScreenInstruction sanitizes and screens an instruction for one
// container. Returns the sanitized text, or a validation or dangerous
// fault. All enqueue paths go through here.
func ScreenInstruction(containerID, raw string) (string, error) {
	if err := ValidateContainerID(containerID); err != nil {
		return "", err
	}

	cleaned, err := SanitizeInstruction(raw)
	if err != nil {
		return "", err
	}

	if family := MatchDangerous(cleaned); family != "" {
		return "", types.NewFault(types.FaultDangerous, "security.screen",
			fmt.Errorf("instruction matches blocked pattern %s", family))
	}
	return cleaned, nil
}

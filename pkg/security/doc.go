/*
Package security screens instructions before they enter the job queue.

Every enqueue path runs through ScreenInstruction, which validates the
container identifier, strips disallowed control characters, enforces the
10 KiB size limit, and rejects instructions matching any blocked pattern
family. Rejected instructions never reach a worker.

# Validation

Container identifiers must be runtime hex IDs (12 to 64 lowercase hex
characters) or canonical UUIDs. Instructions keep LF and TAB; all other
control characters are stripped before the size check.

# Blocked Pattern Families

	fork_bomb                :(){ :|:& };:
	recursive_delete         rm -rf / and variants targeting /, ~, $HOME
	filesystem_format        mkfs and mkfs.*
	raw_device_write         dd ... of=/dev/...
	world_writable_root      chmod 777 /
	listener                 nc/ncat/netcat with a listen flag
	cryptominer              known miner binary names
	reverse_shell            bash -i >& /dev/tcp/..., /dev/tcp redirects
	remote_pipe_execution    curl|wget piped into a shell
	credential_exfiltration  git credential fill/get, .git-credentials
	ssh_key_access           reads of .ssh/id_* private keys
	kernel_module            insmod, rmmod, modprobe
	cron_injection           crontab writes, /etc/cron appends
	privileged_escape        --privileged, --cap-add SYS_ADMIN, docker.sock
	network_scan             nmap, masscan, zmap

Matches produce a dangerous fault; the queue publishes an
instruction:rejected event and logs the family name. The pattern set is
a floor, not a sandbox: the sandbox boundary is the container itself.

# Usage

	cleaned, err := security.ScreenInstruction(containerID, raw)
	if err != nil {
		// types.FaultKindOf(err) is validation or dangerous
		return err
	}
*/
package security

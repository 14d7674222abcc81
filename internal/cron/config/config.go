package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Full resync of all running accounts, every 15 minutes
	CronScheduleResyncAccounts string `env:"CRON_SCHEDULE_RESYNC_ACCOUNTS" envDefault:"0 */15 * * * *"`
	// Connection status snapshot, every 5 minutes
	CronScheduleAccountStatus string `env:"CRON_SCHEDULE_ACCOUNT_STATUS" envDefault:"0 */5 * * * *"`
}

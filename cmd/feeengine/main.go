/*
main.go - Application entry point

PURPOSE:
  Starts the feeengine CLI. Every subcommand shares the same startup:
  configuration from .env and the environment, flag overrides, the zap
  logger, the SQLite store and the fee service.

COMMANDS:
  serve         HTTP API with the due-posting scheduler
  preview       Print the schedule for a pricing JSON document
  refresh       Rebuild schedules for stored subjects
  sync-ledger   Post due installments and receipts up to a date

EXAMPLES:
  # Run the API on a file database
  feeengine serve --db ./data/fees.db

  # Run with an in-memory database and console logs
  feeengine serve --db :memory: --log-format console

  # Preview a schedule without storing anything
  feeengine preview --pricing '{"course_fee":"40000","fee_type":"installment","installment_type":"regular","start_date":"2025-01-15"}'

SEE ALSO:
  - root.go: shared flags and application wiring
  - config/config.go: environment variables
*/
package main

func main() {
	Execute()
}

package db

// schemaSQL contains the database schema initialization SQL. The single %d
// placeholder is the embedding dimension for the HNSW index.
const schemaSQL = `
    -- ==========================================================================
    -- GAME TABLE (catalog entries)
    -- ==========================================================================
    -- Record id is the external store id: game:<id>
    DEFINE TABLE IF NOT EXISTS game SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS game_id ON game TYPE int;
    DEFINE FIELD IF NOT EXISTS title ON game TYPE string;
    DEFINE FIELD IF NOT EXISTS short_text ON game TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS text ON game TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS url ON game TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS cover_url ON game TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS screenshots ON game TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS tags ON game TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS developers ON game TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS entry_type ON game TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS facets ON game TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS embedding ON game TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS suggested ON game TYPE array<object> DEFAULT [] FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created ON game TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated ON game TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS game_title ON game FIELDS title;
    DEFINE INDEX IF NOT EXISTS game_embedding ON game FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;

    -- ==========================================================================
    -- LOCK TABLE (distributed mutual exclusion)
    -- ==========================================================================
    -- Record id is the lock key itself; CREATE on an existing id fails, which
    -- makes acquisition a single atomic operation. Expired rows are swept
    -- lazily by the next acquirer, no background sweeper exists.
    DEFINE TABLE IF NOT EXISTS lock SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS lock_id ON lock TYPE string;
    DEFINE FIELD IF NOT EXISTS acquired ON lock TYPE datetime;
    DEFINE FIELD IF NOT EXISTS expires ON lock TYPE datetime;

    -- ==========================================================================
    -- RATE LIMIT TABLE (one row per limited dependency)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS rate_limit SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS last_request ON rate_limit TYPE datetime;

    -- ==========================================================================
    -- BACKFILL JOB TABLE (persisted batch jobs, resumable)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS backfill_job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job_type ON backfill_job TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON backfill_job TYPE string;
    DEFINE FIELD IF NOT EXISTS game_ids ON backfill_job TYPE array<int>;
    DEFINE FIELD IF NOT EXISTS total ON backfill_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS progress ON backfill_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS result ON backfill_job TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS error ON backfill_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS started_at ON backfill_job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS completed_at ON backfill_job TYPE option<datetime>;
`
